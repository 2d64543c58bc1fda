package channel

import (
	"context"
	"time"

	"github.com/crucible-sec/crucible/errors"
)

// ExecuteWithRetry re-invokes Execute on retryable failures with linear
// backoff (baseDelay x attempt number) between attempts, for up to
// maxRetries+1 total attempts. Validation and container/tool absence errors
// surface immediately without a second attempt.
func (c *Channel) ExecuteWithRetry(ctx context.Context, req Request, maxRetries int) (*Result, error) {
	baseDelay := time.Duration(c.cfg.RetryBaseDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseDelay * time.Duration(attempt)
			c.log.Infow("Retrying command",
				"container", req.ContainerName,
				"attempt", attempt+1,
				"max_attempts", maxRetries+1,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				// Preserve the context's own cause: cancellation is not a
				// deadline unless the context says so.
				return nil, errors.Wrap(ctx.Err(), "retry loop cancelled")
			case <-time.After(backoff):
			}
		}

		result, err := c.Execute(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, errors.Wrapf(lastErr, "command failed after %d attempts", maxRetries+1)
}
