package core

import (
	"fmt"
	"time"
)

// blinkTimestampFormat은 미디어 질의에 쓰이는 서버측 타임스탬프 형식
const blinkTimestampFormat = "2006-01-02T15:04:05-0700"

// 서버 응답에 섞여 들어오는 ISO-8601 변형들. 오프셋이 없는 형식은
// UTC로 해석합니다.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp는 ISO-8601 타임스탬프를 파싱합니다
func ParseTimestamp(ts string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", ts)
}

// FormatTimestamp는 서버가 기대하는 형식으로 시각을 포맷합니다
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(blinkTimestampFormat)
}
