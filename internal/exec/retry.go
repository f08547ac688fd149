package exec

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 200 * time.Millisecond
)

// Retry calls fn until it succeeds, doubling the wait between attempts. Only
// use it for idempotent calls such as reads or setting leverage.
func Retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			backoff *= 2
		}
	}
	return fmt.Errorf("retry failed after %d attempts: %w", attempts, err)
}
