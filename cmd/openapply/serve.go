package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openapply/openapply"
	"github.com/openapply/openapply/internal/config"
	"github.com/openapply/openapply/retry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the openapply server",
	Long:  "Start the openapply API server that applies AI code responses to sandboxes.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	createRetry := retry.DefaultConfig
	createRetry.MaxAttempts = cfg.CreateMaxAttempts

	app, err := openapply.NewBuilder().
		WithConfig(openapply.Config{
			ServerAddr:       cfg.ServerAddr,
			DataDir:          cfg.DataDir,
			DatabasePath:     cfg.DatabasePath,
			Backend:          cfg.Backend,
			SandboxRetention: cfg.SandboxRetention,
			SweepInterval:    cfg.SweepInterval,
			MorphEnabled:     cfg.MorphEnabled,
			CompletionURL:    cfg.CompletionURL,
			InstallerURL:     cfg.InstallerURL,
			CreateRetry:      createRetry,
		}).
		Build()
	if err != nil {
		return fmt.Errorf("building app: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}
