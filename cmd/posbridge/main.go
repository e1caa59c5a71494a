// Command posbridge runs the edge-hub synchronization engine: node-side
// commands for provisioning and sync cycles, and the hub server.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edgetill/posbridge/pkg/logger"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "posbridge",
		Short:         "Edge-hub synchronization engine for point-of-sale nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "posbridge.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newNodeCommand())
	root.AddCommand(newHubCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildLogger() (zerolog.Logger, error) {
	build := logger.New().Console()
	if flagVerbose {
		build = build.WithLevel(zerolog.DebugLevel)
	}
	data, err := build.Make()
	if err != nil {
		return zerolog.Logger{}, err
	}
	return data.Logger, nil
}
