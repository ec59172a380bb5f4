package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Target is refreshed by the Resyncer.
type Target interface {
	Resync(ctx context.Context) error
}

// Resyncer refreshes the bookmark cache on a fixed interval and on demand,
// so a silently broken change feed is noticed and healed.
type Resyncer struct {
	target        Target
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}
}

// NewResyncer creates a resyncer. An interval of zero disables the ticker;
// manual triggers still work.
func NewResyncer(target Target, log logger.Logger, interval time.Duration) *Resyncer {
	return &Resyncer{
		target:        target,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: make(chan struct{}, 1),
	}
}

// Trigger queues a resync. It reports false when one is already queued.
func (r *Resyncer) Trigger() bool {
	select {
	case r.manualTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks until ctx is done or Stop is called.
func (r *Resyncer) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			r.resync(ctx, "periodic")
		case <-r.manualTrigger:
			r.logger.Info("manual resync triggered")
			r.resync(ctx, "manual")
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (r *Resyncer) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Resyncer) resync(ctx context.Context, reason string) {
	start := time.Now()
	if err := r.target.Resync(ctx); err != nil {
		r.logger.Error("resync failed", logger.String("reason", reason), logger.Error(err))
		return
	}
	r.logger.Debug("resync done",
		logger.String("reason", reason),
		logger.Duration("took", time.Since(start)))
}
