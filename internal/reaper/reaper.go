package reaper

import (
	"context"
	"log/slog"
	"time"
)

type Reaper struct {
	targets   []Target
	store     ReaperStore
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// New returns a reaper that reconciles every target once and then health
// checks them every interval. Destroyed journal records older than retention
// are purged on the same tick; a zero retention keeps them forever.
func New(targets []Target, st ReaperStore, interval, retention time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		targets:   targets,
		store:     st,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.checkSessions(ctx)
			r.purge()
		}
	}
}

func (r *Reaper) checkSessions(ctx context.Context) {
	for _, t := range r.targets {
		if err := t.CheckSessions(ctx); err != nil {
			r.logger.Error("reaper: check sessions", "env", t.Name(), "error", err)
		}
	}
}

func (r *Reaper) purge() {
	if r.retention <= 0 || r.store == nil {
		return
	}
	n, err := r.store.PurgeDestroyed(time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Error("reaper: purge journal", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("reaper: purged journal records", "count", n)
	}
}

func (r *Reaper) reconcile(ctx context.Context) {
	r.logger.Info("reconciliation starting")

	for _, t := range r.targets {
		if err := t.Reconcile(ctx); err != nil {
			r.logger.Warn("reconcile: backend", "env", t.Name(), "error", err)
		}
	}

	r.logger.Info("reconciliation complete")
}
