// Package sync implements the node-side synchronization cycle: a push
// phase that drains the transactional outbox to the hub, followed by a
// pull phase that applies hub changes since the node's cursor.
//
// Phases run in dependency-priority order across entity types. Types that
// share a priority have no ordering dependency on each other and are
// processed concurrently; tiers stay strictly sequential so a product
// never reaches the other side before its category.
package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	"github.com/edgetill/posbridge/pkg/wire"
)

// ErrCycleInFlight is returned when a cycle is requested while another is
// still running. Cycles never overlap; the caller simply tries again
// later.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// Transport is the hub connection the orchestrator speaks through.
type Transport interface {
	Push(ctx context.Context, req wire.PushRequest) (*wire.PushResponse, error)
	Pull(ctx context.Context, req wire.PullRequest) (*wire.PullResponse, error)
}

// Orchestrator runs sync cycles for one node.
type Orchestrator struct {
	store     *store.Store
	reg       *registry.Registry
	transport Transport
	log       zerolog.Logger

	inFlight atomic.Bool
}

// New creates an orchestrator.
func New(s *store.Store, reg *registry.Registry, transport Transport, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     s,
		reg:       reg,
		transport: transport,
		log:       log,
	}
}

// RunCycle executes one full cycle under the given configuration and
// returns its summary. Which phases run depends on the operation mode:
// offline nodes only push, every other mode pushes then pulls.
//
// The terminal status lands on the configuration row even when the cycle
// aborts mid-phase.
func (o *Orchestrator) RunCycle(ctx context.Context, cfg *models.NodeSyncConfig) (*Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, ErrCycleInFlight
	}
	defer o.inFlight.Store(false)

	res := &Result{StartedAt: time.Now().UTC()}
	if err := o.store.UpdateSyncStatus(ctx, cfg.ID, models.SyncStatusRunning, ""); err != nil {
		return nil, err
	}

	err := o.runPhases(ctx, cfg, res)
	res.FinishedAt = time.Now().UTC()

	status := models.SyncStatusSuccess
	message := ""
	switch {
	case err != nil:
		status = models.SyncStatusError
		message = err.Error()
	case !res.Ok():
		status = models.SyncStatusError
		message = res.ErrorSummary()
	}
	if statusErr := o.store.UpdateSyncStatus(ctx, cfg.ID, status, message); statusErr != nil {
		o.log.Error().Err(statusErr).Msg("failed to persist cycle status")
	}

	o.log.Info().
		Int("uploaded", res.Uploaded).
		Int("downloaded", res.Downloaded).
		Int("deleted", res.Deleted).
		Int("errors", len(res.Errors)).
		Dur("duration", res.Duration()).
		Str("status", string(status)).
		Msg("sync cycle finished")
	return res, err
}

func (o *Orchestrator) runPhases(ctx context.Context, cfg *models.NodeSyncConfig, res *Result) error {
	if err := o.push(ctx, cfg, res); err != nil {
		return err
	}
	if cfg.OperationMode == models.ModeOffline {
		return nil
	}
	return o.pull(ctx, cfg, res)
}

// InFlight reports whether a cycle is currently running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}
