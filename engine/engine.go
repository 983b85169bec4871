// Package engine orchestrates the apply lifecycle: it resolves sandbox
// ids through the registry, parses responses, drives the apply pipeline,
// and persists runs. It depends only on interfaces and the registry; the
// concrete sandbox backend is chosen at wiring time.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openapply/openapply/apply"
	"github.com/openapply/openapply/model"
	"github.com/openapply/openapply/parser"
	"github.com/openapply/openapply/progress"
	"github.com/openapply/openapply/retry"
	"github.com/openapply/openapply/sandbox"
	"github.com/openapply/openapply/store"
)

// Config holds engine-specific configuration.
type Config struct {
	// SweepInterval is how often idle sandboxes are reaped.
	SweepInterval time.Duration

	// CreateRetry bounds sandbox creation retries.
	CreateRetry retry.Config
}

// SandboxNotFoundError is returned when an apply request references a
// sandbox id that is neither registered nor reconnectable. The parsed
// files travel with it so the caller can show what would have been
// applied.
type SandboxNotFoundError struct {
	SandboxID   string
	ParsedFiles []string
}

func (e *SandboxNotFoundError) Error() string {
	return fmt.Sprintf("sandbox %s not found", e.SandboxID)
}

// Engine coordinates apply runs.
type Engine struct {
	config   Config
	registry *sandbox.Registry
	pipeline *apply.Pipeline
	store    store.RunStore // nil disables run persistence

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. st may be nil to disable run persistence.
func New(cfg Config, reg *sandbox.Registry, pl *apply.Pipeline, st store.RunStore) *Engine {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.CreateRetry.MaxAttempts == 0 {
		cfg.CreateRetry = retry.DefaultConfig
	}
	return &Engine{
		config:   cfg,
		registry: reg,
		pipeline: pl,
		store:    st,
	}
}

// Start launches background goroutines (idle sandbox sweeper). Call
// Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepIdleSandboxes(e.ctx)
	}()
}

// Stop cancels background work and waits for goroutines to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Registry returns the sandbox registry.
func (e *Engine) Registry() *sandbox.Registry { return e.registry }

// Store returns the run store (may be nil).
func (e *Engine) Store() store.RunStore { return e.store }

func (e *Engine) sweepIdleSandboxes(ctx context.Context) {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.registry.Sweep(ctx); n > 0 {
				log.Printf("engine: swept %d idle sandboxes", n)
			}
		}
	}
}

// CreateSandbox provisions a new sandbox and registers it. Transient
// creation failures are retried with backoff; a half-created sandbox is
// torn down before each retry. Concurrent creation requests sharing an
// origin share one in-flight creation.
func (e *Engine) CreateSandbox(ctx context.Context, origin string) (*sandbox.Record, sandbox.CreateInfo, error) {
	var info sandbox.CreateInfo
	rec, err := e.registry.CreateShared(ctx, origin, func(ctx context.Context) (*sandbox.Record, error) {
		var provider sandbox.Provider
		err := retry.Do(ctx, e.config.CreateRetry, func(ctx context.Context) error {
			p, err := e.registry.NewProvider()
			if err != nil {
				return err
			}
			provider = p
			created, err := p.CreateSandbox(ctx)
			if err != nil {
				return fmt.Errorf("creating sandbox: %w", err)
			}
			if err := p.SetupRuntime(ctx); err != nil {
				return fmt.Errorf("setting up runtime: %w", err)
			}
			info = created
			return nil
		}, func(ctx context.Context) {
			if provider != nil {
				if terr := provider.Terminate(ctx); terr != nil {
					log.Printf("engine: tearing down partial sandbox: %v", terr)
				}
				provider = nil
			}
		})
		if err != nil {
			return nil, err
		}
		log.Printf("engine: created sandbox %s (%s)", info.SandboxID, info.URL)
		rec := e.registry.Register(info.SandboxID, provider)
		rec.SetURL(info.URL)
		return rec, nil
	})
	if err != nil {
		return nil, sandbox.CreateInfo{}, err
	}
	if info.SandboxID == "" {
		// A concurrent caller won the shared creation; reconstruct info
		// from the record.
		info = sandbox.CreateInfo{SandboxID: rec.SandboxID, URL: rec.URL()}
	}
	return rec, info, nil
}

// Apply parses the response and runs the full pipeline against the
// request's sandbox, synchronously. The stream may be nil. Returns
// *SandboxNotFoundError when the sandbox id cannot be resolved.
func (e *Engine) Apply(ctx context.Context, req model.ApplyRequest, stream *progress.Stream) (*model.ApplyResult, *model.ParsedResponse, error) {
	parsed := parser.Parse(req.Response)

	rec, registered, err := e.registry.GetOrCreate(ctx, req.SandboxID)
	if err != nil {
		return nil, parsed, fmt.Errorf("resolving sandbox %s: %w", req.SandboxID, err)
	}
	if !registered {
		return nil, parsed, &SandboxNotFoundError{
			SandboxID:   req.SandboxID,
			ParsedFiles: parsed.FilePaths(),
		}
	}

	// Serialize apply runs per sandbox id. Runs against different ids
	// proceed concurrently.
	rec.LockApply()
	defer rec.UnlockApply()

	run := e.beginRun(req, stream)

	result := e.pipeline.Run(ctx, rec, req, parsed, stream)

	e.finishRun(run, parsed, result)
	return result, parsed, nil
}

// StartApply launches an apply run in the background and returns a
// stream of its progress events. The run uses the engine's context, not
// the caller's: an aborted client connection does not halt sandbox
// operations already dispatched. The stream is closed after the
// terminal event.
func (e *Engine) StartApply(req model.ApplyRequest) *progress.Stream {
	stream := progress.NewStream()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stream.Close()

		ctx := e.ctx
		if ctx == nil {
			ctx = context.Background()
		}

		result, _, err := e.Apply(ctx, req, stream)
		if err != nil {
			stream.Error(err.Error())
			return
		}
		stream.Emit(progress.Event{
			Type:    progress.TypeComplete,
			Message: "Apply complete",
			Result:  result,
		})
	}()

	return stream
}

// beginRun records a new run and wires event persistence into the
// stream's tap. Returns nil when persistence is disabled.
func (e *Engine) beginRun(req model.ApplyRequest, stream *progress.Stream) *model.Run {
	if e.store == nil {
		return nil
	}
	now := time.Now().UTC()
	run := &model.Run{
		ID:        "run-" + uuid.New().String()[:8],
		SandboxID: req.SandboxID,
		IsEdit:    req.IsEdit,
		Status:    model.RunRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateRun(run); err != nil {
		log.Printf("engine: persisting run: %v", err)
		return nil
	}
	if stream != nil {
		stream.WithTap(func(ev progress.Event) {
			e.persistEvent(run.ID, ev)
		})
	}
	return run
}

func (e *Engine) persistEvent(runID string, ev progress.Event) {
	data := ev.Message
	if data == "" {
		data = ev.FileName
	}
	if data == "" {
		data = ev.Command
	}
	if err := e.store.AddEvent(&model.RunEvent{
		RunID:     runID,
		Type:      ev.Type,
		Data:      data,
		CreatedAt: ev.Timestamp,
	}); err != nil {
		log.Printf("engine: persisting run event: %v", err)
	}
}

func (e *Engine) finishRun(run *model.Run, parsed *model.ParsedResponse, result *model.ApplyResult) {
	if run == nil {
		return
	}
	run.Status = model.RunComplete
	if len(result.Errors) > 0 && len(result.FilesCreated)+len(result.FilesUpdated) == 0 {
		run.Status = model.RunError
		run.Error = result.Errors[0]
	}
	run.Explanation = parsed.Explanation
	run.Structure = parsed.Structure
	run.Result = result
	if err := e.store.UpdateRun(run); err != nil {
		log.Printf("engine: updating run %s: %v", run.ID, err)
	}
}
