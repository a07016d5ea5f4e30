package image

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

// withDeadline runs one whole backend generation under a single deadline,
// covering uploads, submission, polling and the final download. Expiry
// always yields a single TIMEOUT error; caller cancellation is returned as is.
func withDeadline[T any](ctx context.Context, t *transport, timeout time.Duration, run func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return run(ctx)
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := run(runCtx)
	if err == nil {
		return out, nil
	}
	var zero T
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if runCtx.Err() != nil {
		return zero, types.Errorf(types.ErrTimeout, "%s generation timed out after %s", t.provider, timeout).
			WithProvider(t.provider).
			WithRetryable(true)
	}
	return zero, err
}

// pollFunc checks a pending job once. done=true stops polling.
type pollFunc func(ctx context.Context) (done bool, err error)

// pollUntil waits interval, reports progress, and checks the job, until check
// is done or fails, or ctx ends. The deadline belongs to ctx; see withDeadline.
func pollUntil(ctx context.Context, t *transport, interval time.Duration, progress *progressReporter, check pollFunc) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		progress.tick(ctx)
		t.recordPoll()

		done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// transient reports whether a poll error should be retried on the next tick:
// transport failures, 429 and 5xx replies.
func transient(logger *zap.Logger, err error) bool {
	if types.IsRetryable(err) {
		logger.Debug("poll attempt failed, retrying", zap.Error(err))
		return true
	}
	return false
}
