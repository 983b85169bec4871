package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openapply/openapply/apply"
	"github.com/openapply/openapply/model"
	"github.com/openapply/openapply/progress"
	"github.com/openapply/openapply/retry"
	"github.com/openapply/openapply/sandbox"
	"github.com/openapply/openapply/sandbox/memory"
	"github.com/openapply/openapply/store/sqlite"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	reg := sandbox.NewRegistry(memory.New, time.Minute)
	pl := apply.New(apply.NpmInstaller{}, nil, true)
	e := New(Config{CreateRetry: fastRetry()}, reg, pl, nil)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func TestCreateSandboxRegisters(t *testing.T) {
	e := newTestEngine(t)

	rec, info, err := e.CreateSandbox(context.Background(), "origin-1")
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if info.SandboxID == "" || !strings.HasPrefix(info.SandboxID, "mem-") {
		t.Fatalf("info = %+v", info)
	}
	if rec.SandboxID != info.SandboxID {
		t.Fatalf("record id %q != info id %q", rec.SandboxID, info.SandboxID)
	}
	if _, ok := e.Registry().Get(info.SandboxID); !ok {
		t.Fatal("sandbox not registered")
	}
	// SetupRuntime must have seeded the scaffold.
	if _, err := rec.Provider.ReadFile(context.Background(), "package.json"); err != nil {
		t.Fatalf("scaffold missing: %v", err)
	}
}

func TestApplyUnknownSandboxIsStructuredNotFound(t *testing.T) {
	e := newTestEngine(t)

	req := model.ApplyRequest{
		Response:  `<file path="src/Button.jsx">export default ()=>null;</file>`,
		SandboxID: "ghost-1",
	}
	_, parsed, err := e.Apply(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	var nf *SandboxNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %T %v", err, err)
	}
	if nf.SandboxID != "ghost-1" {
		t.Fatalf("not-found id = %q", nf.SandboxID)
	}
	if len(nf.ParsedFiles) != 1 || nf.ParsedFiles[0] != "src/Button.jsx" {
		t.Fatalf("parsedFiles = %v", nf.ParsedFiles)
	}
	if parsed == nil || len(parsed.Files) != 1 {
		t.Fatal("parsed response missing from not-found path")
	}
}

func TestApplyEndToEnd(t *testing.T) {
	e := newTestEngine(t)

	_, info, err := e.CreateSandbox(context.Background(), "origin-1")
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	req := model.ApplyRequest{
		Response:  `<file path="src/Button.jsx">export default ()=>null;</file><package>lodash</package>`,
		SandboxID: info.SandboxID,
	}
	result, _, err := e.Apply(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(result.FilesCreated) == 0 || result.FilesCreated[0] != "src/Button.jsx" {
		t.Fatalf("filesCreated = %v", result.FilesCreated)
	}
	if len(result.PackagesInstalled) != 1 || result.PackagesInstalled[0] != "lodash" {
		t.Fatalf("packagesInstalled = %v", result.PackagesInstalled)
	}

	rec, _ := e.Registry().Get(info.SandboxID)
	app, err := rec.Provider.ReadFile(context.Background(), "src/App.jsx")
	if err != nil {
		t.Fatalf("root component not synthesized: %v", err)
	}
	if !strings.Contains(app, "Button") {
		t.Fatalf("root component does not reference Button:\n%s", app)
	}
}

func TestStartApplyEmitsTerminalComplete(t *testing.T) {
	e := newTestEngine(t)
	_, info, err := e.CreateSandbox(context.Background(), "origin-1")
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	stream := e.StartApply(model.ApplyRequest{
		Response:  `<file path="src/Button.jsx">export default ()=>null;</file>`,
		SandboxID: info.SandboxID,
	})

	var last progress.Event
	for ev := range stream.Events() {
		last = ev
	}
	if last.Type != progress.TypeComplete {
		t.Fatalf("terminal event = %q", last.Type)
	}
	if last.Result == nil {
		t.Fatal("terminal event missing result")
	}
}

func TestStartApplyEmitsErrorForUnknownSandbox(t *testing.T) {
	e := newTestEngine(t)

	stream := e.StartApply(model.ApplyRequest{Response: "x", SandboxID: "ghost"})
	var last progress.Event
	for ev := range stream.Events() {
		last = ev
	}
	if last.Type != progress.TypeError {
		t.Fatalf("terminal event = %q", last.Type)
	}
	if !strings.Contains(last.Error, "ghost") {
		t.Fatalf("error = %q", last.Error)
	}
}

func TestApplyPersistsRun(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	reg := sandbox.NewRegistry(memory.New, time.Minute)
	pl := apply.New(apply.NpmInstaller{}, nil, true)
	e := New(Config{CreateRetry: fastRetry()}, reg, pl, st)
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	_, info, err := e.CreateSandbox(context.Background(), "origin-1")
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	stream := e.StartApply(model.ApplyRequest{
		Response:  `<file path="src/Button.jsx">export default ()=>null;</file><explanation>a button</explanation>`,
		SandboxID: info.SandboxID,
	})
	for range stream.Events() {
	}

	runs, err := st.ListRuns(info.SandboxID)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	run := runs[0]
	if run.Status != model.RunComplete {
		t.Fatalf("status = %q (error %q)", run.Status, run.Error)
	}
	if run.Explanation != "a button" {
		t.Fatalf("explanation = %q", run.Explanation)
	}
	if run.Result == nil || len(run.Result.FilesCreated) == 0 {
		t.Fatalf("result = %+v", run.Result)
	}

	events, err := st.GetEvents(run.ID, 0)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("no run events persisted")
	}
}

// slowProvider holds sandbox creation open long enough for concurrent
// callers to pile onto the shared in-flight creation.
type slowProvider struct {
	sandbox.Provider
}

func (s *slowProvider) CreateSandbox(ctx context.Context) (sandbox.CreateInfo, error) {
	time.Sleep(50 * time.Millisecond)
	return s.Provider.CreateSandbox(ctx)
}

func TestCreateSandboxSharedCallersSeeSameInfo(t *testing.T) {
	factory := func() (sandbox.Provider, error) {
		inner, err := memory.New()
		if err != nil {
			return nil, err
		}
		return &slowProvider{Provider: inner}, nil
	}
	reg := sandbox.NewRegistry(factory, time.Minute)
	pl := apply.New(apply.NpmInstaller{}, nil, false)
	e := New(Config{CreateRetry: fastRetry()}, reg, pl, nil)

	var wg sync.WaitGroup
	infos := make([]sandbox.CreateInfo, 4)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, info, err := e.CreateSandbox(context.Background(), "origin-shared")
			if err != nil {
				t.Errorf("CreateSandbox: %v", err)
				return
			}
			infos[i] = info
		}(i)
	}
	wg.Wait()

	for _, info := range infos {
		if info.SandboxID != infos[0].SandboxID {
			t.Fatalf("callers saw different sandboxes: %q vs %q", info.SandboxID, infos[0].SandboxID)
		}
		if info.URL == "" {
			t.Fatal("deduped caller saw an empty url")
		}
	}
}

// flakyProvider fails sandbox creation transiently before succeeding.
type flakyProvider struct {
	sandbox.Provider
	failures *atomic.Int32
}

func (f *flakyProvider) CreateSandbox(ctx context.Context) (sandbox.CreateInfo, error) {
	if f.failures.Add(-1) >= 0 {
		return sandbox.CreateInfo{}, fmt.Errorf("502 bad gateway")
	}
	return f.Provider.CreateSandbox(ctx)
}

func TestCreateSandboxRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	factory := func() (sandbox.Provider, error) {
		inner, err := memory.New()
		if err != nil {
			return nil, err
		}
		return &flakyProvider{Provider: inner, failures: &failures}, nil
	}
	reg := sandbox.NewRegistry(factory, time.Minute)
	pl := apply.New(apply.NpmInstaller{}, nil, false)
	e := New(Config{CreateRetry: fastRetry()}, reg, pl, nil)

	_, info, err := e.CreateSandbox(context.Background(), "origin-1")
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if info.SandboxID == "" {
		t.Fatal("no sandbox id after retries")
	}
}
