package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds a polling loop: how many attempts to make and how
// long to back off between them. Backoff grows exponentially from
// BaseDelay and is capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter adds up to one extra second per wait to spread concurrent
	// pollers. Disabled in tests.
	Jitter bool
}

// DefaultManifestPolicy bounds manifest polling. The cap is deliberately
// small because this runs inside the periodic refresh cycle.
var DefaultManifestPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
	Jitter:      true,
}

// Backoff returns the wait before the given retry (0-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.BaseDelay << uint(retry)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter {
		d += time.Duration(rand.Int63n(int64(time.Second)))
	}
	return d
}

// Sleep waits for the retry's backoff or until the context is done.
func (p RetryPolicy) Sleep(ctx context.Context, retry int) error {
	timer := time.NewTimer(p.Backoff(retry))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForCommand polls an asynchronous command until it reports
// completion or the policy's attempts run out.
func (c *Client) WaitForCommand(ctx context.Context, networkID int, commandID int64, policy RetryPolicy) (*CommandResponse, error) {
	var last *CommandResponse
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		status, err := c.CommandStatus(ctx, networkID, commandID)
		if err != nil {
			if !IsTransportError(err) {
				return nil, err
			}
			// Transient transport failure, retry within the policy.
		} else {
			last = status
			if status.Complete {
				return status, nil
			}
		}

		if err := policy.Sleep(ctx, attempt); err != nil {
			return last, err
		}
	}
	return last, fmt.Errorf("command %d did not complete after %d attempts", commandID, policy.MaxAttempts)
}
