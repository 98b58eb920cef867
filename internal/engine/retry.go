// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryWithBackoff retries op up to maxAttempts times, sleeping baseBackoff,
// then twice that, and so on between attempts. Cancellation of ctx ends the
// wait immediately.
//
// op returns (shouldRetry bool, err error). If shouldRetry is false, err is
// returned immediately (nil on success, non-nil on permanent failure).
// On retry exhaustion, the last error is returned.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range max(maxAttempts, 1) {
		if attempt > 0 {
			timer := time.NewTimer(baseBackoff * time.Duration(1<<(attempt-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}
