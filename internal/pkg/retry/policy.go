package retry

import (
	"context"
	"time"
)

// Policy is the shared backoff schedule for reconnect loops and
// persistence retries. Attempt numbering starts at 1.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        time.Second,
		Cap:         30 * time.Second,
	}
}

// Delay returns min(Base * 2^(attempt-1), Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Exhausted reports whether attempt has passed the configured budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Sleep waits d or until ctx is done. Returns false when the context
// expired first.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Do runs fn up to MaxAttempts times, backing off between failures.
// The last error is returned once the budget is spent.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == max {
			break
		}
		if !Sleep(ctx, p.Delay(attempt)) {
			return ctx.Err()
		}
	}
	return lastErr
}
