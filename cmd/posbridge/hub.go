package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgetill/posbridge/pkg/hub"
	"github.com/edgetill/posbridge/pkg/registry"
	"github.com/edgetill/posbridge/pkg/store"
)

func newHubCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Hub-side operations",
	}
	cmd.AddCommand(newHubServeCommand())
	return cmd
}

func newHubServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the hub API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log, err := buildLogger()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flagConfig)
			if err != nil {
				return err
			}
			if cfg.Hub.DSN == "" {
				return fmt.Errorf("hub.dsn is required")
			}
			addr := listen
			if addr == "" {
				addr = cfg.Hub.Listen
			}
			if addr == "" {
				addr = ":8080"
			}

			s, err := store.OpenPostgres(cfg.Hub.DSN, log)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}

			app := hub.New(s, registry.NewDefault(log), cfg.Hub.AuthToken, log)
			return app.Serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides hub.listen)")
	return cmd
}
