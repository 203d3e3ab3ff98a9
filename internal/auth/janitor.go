package auth

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"identity-service/internal/util"
)

// Janitor periodically sweeps expired state: stale sessions, dead one-time
// codes, and idle rate limiter keys.
type Janitor struct {
	orch     *Orchestrator
	interval time.Duration
}

func NewJanitor(orch *Orchestrator, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{orch: orch, interval: interval}
}

// Run blocks until the context is cancelled, sweeping once per interval. A
// failed pass is logged and retried on the next tick.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	util.Info("Janitor started", util.Duration("interval", j.interval))
	for {
		select {
		case <-ctx.Done():
			util.Info("Janitor stopped")
			return
		case <-ticker.C:
			if err := j.sweep(ctx); err != nil {
				util.Error("Janitor sweep failed", util.ErrorField(err))
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return j.orch.sweepSessions(gctx)
	})
	g.Go(func() error {
		return j.orch.sweepCodes(gctx)
	})
	g.Go(func() error {
		j.orch.sweepLimiters()
		return nil
	})
	return g.Wait()
}
