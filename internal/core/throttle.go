package core

import (
	"sync"
	"time"
)

// Throttle는 전역 갱신 주기를 제한하는 최소 간격 게이트입니다
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
	now      func() time.Time
}

// NewThrottle는 주어진 최소 간격의 게이트를 생성합니다
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
	}
}

// OK는 마지막 통과 이후 간격이 지났으면 true를 반환하고 게이트를
// 갱신합니다. force가 true면 간격과 무관하게 통과합니다.
func (t *Throttle) OK(force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if force || t.lastCall.IsZero() || now.Sub(t.lastCall) >= t.interval {
		t.lastCall = now
		return true
	}
	return false
}

// LastCall는 마지막으로 통과한 시각을 반환합니다
func (t *Throttle) LastCall() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCall
}
