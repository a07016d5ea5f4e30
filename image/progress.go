package image

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// progressReporter throttles a ProgressFunc and runs it off the poll loop so
// a slow or failing callback cannot affect the generation.
type progressReporter struct {
	fn       ProgressFunc
	interval time.Duration
	start    time.Time
	logger   *zap.Logger

	mu   sync.Mutex
	last time.Duration
}

func newProgressReporter(fn ProgressFunc, interval time.Duration, logger *zap.Logger) *progressReporter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &progressReporter{fn: fn, interval: interval, start: time.Now(), logger: logger}
}

// tick fires the callback if at least one interval has passed since the
// previous report.
func (r *progressReporter) tick(ctx context.Context) {
	if r == nil || r.fn == nil {
		return
	}
	elapsed := time.Since(r.start)

	r.mu.Lock()
	if elapsed-r.last < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = elapsed
	r.mu.Unlock()

	go r.call(context.WithoutCancel(ctx), elapsed)
}

func (r *progressReporter) call(ctx context.Context, elapsed time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("progress callback panicked", zap.String("panic", fmt.Sprint(rec)))
		}
	}()
	if err := r.fn(ctx, elapsed); err != nil {
		r.logger.Debug("progress callback failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	}
}
