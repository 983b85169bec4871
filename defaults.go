package openapply

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openapply/openapply/apply"
	"github.com/openapply/openapply/retry"
	"github.com/openapply/openapply/sandbox"
	"github.com/openapply/openapply/sandbox/memory"
	sqliteStore "github.com/openapply/openapply/store/sqlite"
)

func init() {
	sandbox.RegisterBackend("memory", memory.New)
}

// applyBuilderDefaults fills in missing fields on the builder with
// sensible defaults.
func applyBuilderDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7090"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "openapply.db")
	}
	if b.config.Backend == "" {
		b.config.Backend = "memory"
	}
	if b.config.SandboxRetention == 0 {
		b.config.SandboxRetention = 20 * time.Minute
	}
	if b.config.SweepInterval == 0 {
		b.config.SweepInterval = 5 * time.Minute
	}
	if b.config.CreateRetry.MaxAttempts == 0 {
		b.config.CreateRetry = retry.DefaultConfig
	}
	if !b.morphSet {
		b.config.MorphEnabled = true
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Sandbox backend factory.
	if b.factory == nil {
		backend := b.config.Backend
		if _, err := sandbox.NewProvider(backend); err != nil {
			return err
		}
		b.factory = func() (sandbox.Provider, error) {
			return sandbox.NewProvider(backend)
		}
	}

	// Package installer.
	if b.installer == nil {
		if b.config.InstallerURL != "" {
			b.installer = apply.NewHTTPInstaller(b.config.InstallerURL)
		} else {
			b.installer = apply.NpmInstaller{}
		}
	}

	// Missing-import completion.
	if b.completer == nil && b.config.CompletionURL != "" {
		b.completer = apply.NewHTTPCompleter(b.config.CompletionURL)
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openapply"
	}
	return filepath.Join(home, ".openapply")
}
