package sync

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/store"
)

// Runner triggers sync cycles on a fixed interval. On-demand nodes are
// skipped: their cycles only run when triggered explicitly through the
// orchestrator.
type Runner struct {
	orch     *Orchestrator
	store    *store.Store
	interval time.Duration
	log      zerolog.Logger
}

// NewRunner creates an interval runner.
func NewRunner(orch *Orchestrator, s *store.Store, interval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{orch: orch, store: s, interval: interval, log: log}
}

// Run blocks until the context is cancelled, running one cycle per tick.
// An in-flight cycle makes the tick a no-op rather than queueing behind
// it.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	cfg, err := r.store.GetSyncConfig(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to load sync config")
		return
	}
	if cfg == nil {
		r.log.Warn().Msg("node not provisioned; skipping cycle")
		return
	}
	if cfg.OperationMode == models.ModeOnDemand {
		return
	}

	if _, err := r.orch.RunCycle(ctx, cfg); err != nil {
		if errors.Is(err, ErrCycleInFlight) {
			return
		}
		r.log.Error().Err(err).Msg("sync cycle failed")
	}
}
