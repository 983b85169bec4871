// Package openapply is the top-level entry point for the openapply
// framework.
//
// Use the Builder to compose an application:
//
//	app, err := openapply.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize components:
//
//	app, err := openapply.NewBuilder().
//	    WithStore(myStore).
//	    WithInstaller(myInstaller).
//	    Build()
package openapply

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/openapply/openapply/apply"
	"github.com/openapply/openapply/engine"
	"github.com/openapply/openapply/httpapi"
	"github.com/openapply/openapply/retry"
	"github.com/openapply/openapply/sandbox"
	"github.com/openapply/openapply/store"
)

// Config holds top-level configuration for an openapply application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.openapply").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Backend selects the sandbox backend by registered name (default "memory").
	Backend string

	// SandboxRetention is how long an untouched sandbox survives the
	// cleanup sweep (default 20m).
	SandboxRetention time.Duration

	// SweepInterval is how often idle sandboxes are reaped (default 5m).
	SweepInterval time.Duration

	// MorphEnabled gates the targeted-patch pathway (default true).
	MorphEnabled bool

	// CompletionURL is the missing-import completion endpoint; empty
	// disables the completion step.
	CompletionURL string

	// InstallerURL is an external package-install service endpoint; empty
	// installs via npm inside the sandbox.
	InstallerURL string

	// CreateRetry bounds sandbox creation retries.
	CreateRetry retry.Config
}

// Builder constructs an openapply App.
type Builder struct {
	config    Config
	store     store.RunStore
	factory   sandbox.Constructor
	installer apply.PackageInstaller
	completer apply.ImportCompleter

	morphSet bool
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.morphSet = true
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithSandboxFactory sets the sandbox provider constructor, bypassing
// backend-name lookup.
func (b *Builder) WithSandboxFactory(f sandbox.Constructor) *Builder {
	b.factory = f
	return b
}

// WithInstaller sets the package-install collaborator.
func (b *Builder) WithInstaller(i apply.PackageInstaller) *Builder {
	b.installer = i
	return b
}

// WithCompleter sets the missing-import completion collaborator.
func (b *Builder) WithCompleter(c apply.ImportCompleter) *Builder {
	b.completer = c
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyBuilderDefaults(b); err != nil {
		return nil, err
	}

	registry := sandbox.NewRegistry(b.factory, b.config.SandboxRetention)
	pipeline := apply.New(b.installer, b.completer, b.config.MorphEnabled)
	eng := engine.New(
		engine.Config{
			SweepInterval: b.config.SweepInterval,
			CreateRetry:   b.config.CreateRetry,
		},
		registry,
		pipeline,
		b.store,
	)

	return &App{
		config:  b.config,
		engine:  eng,
		handler: httpapi.New(eng),
	}, nil
}

// App is a running openapply application.
type App struct {
	config  Config
	engine  *engine.Engine
	handler *httpapi.Handler
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP API handler.
func (a *App) Handler() *httpapi.Handler { return a.handler }

// Start starts the HTTP server. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("openapply server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	if a.engine.Store() != nil {
		return a.engine.Store().Close()
	}
	return nil
}
