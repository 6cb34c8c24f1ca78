package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drives the dispatcher and follow-up monitor once per minute each.
// The two tick kinds run independently, but consecutive invocations of the
// same kind never overlap: if a tick is still running when the next minute
// fires, the new invocation is skipped. Overlap would risk duplicate
// dispatches inside the idempotency window.
type Runner struct {
	dispatcher *Dispatcher
	monitor    *FollowupMonitor
	interval   time.Duration
	log        *zap.SugaredLogger

	dispatchMu sync.Mutex
	followupMu sync.Mutex
}

func NewRunner(dispatcher *Dispatcher, monitor *FollowupMonitor, log *zap.SugaredLogger) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		monitor:    monitor,
		interval:   time.Minute,
		log:        log,
	}
}

// Start launches the minute loop in its own goroutine. The loop stops when
// the context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				go r.runDispatch(ctx, now)
				go r.runFollowup(ctx, now)
			case <-ctx.Done():
				r.log.Infow("scheduler stopped")
				return
			}
		}
	}()
}

func (r *Runner) runDispatch(ctx context.Context, now time.Time) {
	if !r.dispatchMu.TryLock() {
		r.log.Warnw("previous reminder tick still running, skipping", "time", now)
		return
	}
	defer r.dispatchMu.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if _, err := r.dispatcher.Tick(tickCtx, now); err != nil {
		r.log.Errorw("reminder tick failed", "error", err)
	}
}

func (r *Runner) runFollowup(ctx context.Context, now time.Time) {
	if !r.followupMu.TryLock() {
		r.log.Warnw("previous follow-up tick still running, skipping", "time", now)
		return
	}
	defer r.followupMu.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, r.interval)
	defer cancel()

	if _, err := r.monitor.Tick(tickCtx, now); err != nil {
		r.log.Errorw("follow-up tick failed", "error", err)
	}
}
