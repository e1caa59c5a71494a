package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edgetill/posbridge/pkg/client"
	"github.com/edgetill/posbridge/pkg/migration"
	"github.com/edgetill/posbridge/pkg/models"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
	syncengine "github.com/edgetill/posbridge/pkg/sync"
)

func newNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Node-side operations",
	}
	cmd.AddCommand(newNodeProvisionCommand())
	cmd.AddCommand(newNodeSyncCommand())
	cmd.AddCommand(newNodeRunCommand())
	cmd.AddCommand(newNodeStatusCommand())
	cmd.AddCommand(newNodeRequeueCommand())
	cmd.AddCommand(newNodePurgeCommand())
	return cmd
}

// openNode loads the config file, opens the node store and migrates its
// schema.
func openNode(ctx context.Context) (*Config, *store.Store, zerolog.Logger, error) {
	log, err := buildLogger()
	if err != nil {
		return nil, nil, zerolog.Logger{}, err
	}
	cfg, err := loadConfig(flagConfig)
	if err != nil {
		return nil, nil, zerolog.Logger{}, err
	}
	if err := cfg.Node.validate(); err != nil {
		return nil, nil, zerolog.Logger{}, err
	}
	s, err := store.OpenSQLite(cfg.Node.Database, log)
	if err != nil {
		return nil, nil, zerolog.Logger{}, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, zerolog.Logger{}, fmt.Errorf("migrate schema: %w", err)
	}
	return cfg, s, log, nil
}

// nodeRuntime assembles the sync stack around an open store, using the
// stored configuration when present and seeding it from the file when
// not.
func nodeRuntime(ctx context.Context, cfg *Config, s *store.Store, log zerolog.Logger) (*models.NodeSyncConfig, *syncengine.Orchestrator, error) {
	stored, err := s.GetSyncConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	if stored == nil {
		stored = cfg.Node.syncConfig()
		if err := s.SaveSyncConfig(ctx, stored); err != nil {
			return nil, nil, err
		}
	}
	hub := client.New(stored.HubEndpoint, stored.AuthToken, client.WithTimeout(stored.Timeout()))
	reg := registry.NewDefault(log)
	return stored, syncengine.New(s, reg, hub, log), nil
}

func newNodeProvisionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Bulk-load this node from the hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, s, log, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			stored, _, err := nodeRuntime(ctx, cfg, s, log)
			if err != nil {
				return err
			}
			hub := client.New(stored.HubEndpoint, stored.AuthToken, client.WithTimeout(stored.Timeout()))
			reg := registry.NewDefault(log)
			loader := migration.NewLoader(hub, s, reg, stored.NodeID, stored.EffectiveBatchSize(), log)

			report, err := loader.Run(ctx)
			if err != nil {
				return err
			}
			for entityType, er := range report.Entities {
				fmt.Printf("%-16s expected=%d applied=%d failed=%d\n", entityType, er.Expected, er.Applied, er.Failed)
			}
			if !report.Ok() {
				return fmt.Errorf("migration finished with failures")
			}
			fmt.Printf("provisioned in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
			return nil
		},
	}
}

func newNodeSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, s, log, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			stored, orch, err := nodeRuntime(ctx, cfg, s, log)
			if err != nil {
				return err
			}
			res, err := orch.RunCycle(ctx, stored)
			if err != nil {
				return err
			}
			fmt.Printf("uploaded=%d downloaded=%d deleted=%d errors=%d in %s\n",
				res.Uploaded, res.Downloaded, res.Deleted, len(res.Errors), res.Duration().Round(time.Millisecond))
			if !res.Ok() {
				return fmt.Errorf("cycle finished with errors: %s", res.ErrorSummary())
			}
			return nil
		},
	}
}

func newNodeRunCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run sync cycles on an interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, s, log, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			_, orch, err := nodeRuntime(ctx, cfg, s, log)
			if err != nil {
				return err
			}
			runner := syncengine.NewRunner(orch, s, interval, log)
			log.Info().Dur("interval", interval).Msg("node runner started")
			if err := runner.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between sync cycles")
	return cmd
}

func newNodeStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync configuration and outbox state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, s, _, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			stored, err := s.GetSyncConfig(ctx)
			if err != nil {
				return err
			}
			if stored == nil {
				fmt.Println("node not provisioned")
				return nil
			}
			fmt.Printf("node=%s mode=%s status=%s cursor=%s\n",
				stored.NodeID, stored.OperationMode, stored.Status, stored.LastSyncCursor.Format(time.RFC3339))
			if stored.LastError != "" {
				fmt.Printf("last error: %s\n", stored.LastError)
			}

			counts, err := s.CountOutboxByState(ctx)
			if err != nil {
				return err
			}
			for _, state := range []models.OutboxState{
				models.OutboxStatePending,
				models.OutboxStateProcessing,
				models.OutboxStateSynced,
				models.OutboxStateError,
			} {
				fmt.Printf("outbox %-10s %d\n", state, counts[state])
			}
			return nil
		},
	}
}

func newNodeRequeueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Reset errored outbox entries for retry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, s, _, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.RequeueErrors(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d entries\n", n)
			return nil
		},
	}
}

func newNodePurgeCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synced outbox entries older than a retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			_, s, _, err := openNode(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.PurgeSynced(ctx, time.Now().UTC().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window for synced entries")
	return cmd
}
