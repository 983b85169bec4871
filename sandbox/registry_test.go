package sandbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider is a minimal Provider for registry tests.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	files      []string
	terminated bool
	reconnect  func(ctx context.Context, id string) error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) CreateSandbox(_ context.Context) (CreateInfo, error) {
	return CreateInfo{SandboxID: "fake-1", URL: "fake://1"}, nil
}
func (f *fakeProvider) SetupRuntime(_ context.Context) error            { return nil }
func (f *fakeProvider) WriteFile(_ context.Context, _, _ string) error  { return nil }
func (f *fakeProvider) ReadFile(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("not found")
}
func (f *fakeProvider) ListFiles(_ context.Context, _ string) ([]string, error) {
	return f.files, nil
}
func (f *fakeProvider) RunCommand(_ context.Context, _ string) (CommandOutput, error) {
	return CommandOutput{}, nil
}
func (f *fakeProvider) Terminate(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = true
	return nil
}

// reconnectable wraps fakeProvider with the Reconnecter capability.
type reconnectable struct {
	fakeProvider
}

func (r *reconnectable) Reconnect(ctx context.Context, id string) error {
	return r.reconnect(ctx, id)
}

func TestGetOrCreateReturnsCachedRecord(t *testing.T) {
	reg := NewRegistry(func() (Provider, error) { return &fakeProvider{name: "fake"}, nil }, time.Minute)
	rec := reg.Register("sb-1", &fakeProvider{name: "fake"})

	got, registered, err := reg.GetOrCreate(context.Background(), "sb-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !registered {
		t.Fatal("expected registered record")
	}
	if got != rec {
		t.Fatal("expected the cached record")
	}
}

func TestGetOrCreateReconnects(t *testing.T) {
	var reconnectedID string
	factory := func() (Provider, error) {
		p := &reconnectable{}
		p.name = "fake"
		p.reconnect = func(_ context.Context, id string) error {
			reconnectedID = id
			return nil
		}
		return p, nil
	}
	reg := NewRegistry(factory, time.Minute)

	rec, registered, err := reg.GetOrCreate(context.Background(), "sb-42")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !registered {
		t.Fatal("expected reconnect to register the record")
	}
	if reconnectedID != "sb-42" {
		t.Fatalf("reconnected id = %q", reconnectedID)
	}
	if _, ok := reg.Get("sb-42"); !ok {
		t.Fatal("record not registered after reconnect")
	}
	if rec.SandboxID != "sb-42" {
		t.Fatalf("record id = %q", rec.SandboxID)
	}
}

func TestGetOrCreateReconnectSeedsKnownFiles(t *testing.T) {
	factory := func() (Provider, error) {
		p := &reconnectable{}
		p.name = "fake"
		p.files = []string{"index.html", "package.json", "src/App.jsx"}
		p.reconnect = func(_ context.Context, _ string) error { return nil }
		return p, nil
	}
	reg := NewRegistry(factory, time.Minute)

	rec, registered, err := reg.GetOrCreate(context.Background(), "sb-43")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !registered {
		t.Fatal("expected reconnect to register the record")
	}
	// Rewriting a pre-existing file must classify as an update, which
	// hinges on the known-files set being seeded from the live tree.
	if !rec.KnownFile("src/App.jsx") {
		t.Fatal("pre-existing file not known after reconnect")
	}
	if rec.KnownFileCount() != 3 {
		t.Fatalf("known files = %d, want 3", rec.KnownFileCount())
	}
}

func TestGetOrCreateReturnsFreshUnregistered(t *testing.T) {
	factory := func() (Provider, error) {
		p := &reconnectable{}
		p.name = "fake"
		p.reconnect = func(_ context.Context, _ string) error {
			return fmt.Errorf("sandbox gone")
		}
		return p, nil
	}
	reg := NewRegistry(factory, time.Minute)

	rec, registered, err := reg.GetOrCreate(context.Background(), "sb-missing")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if registered {
		t.Fatal("expected unregistered fresh record")
	}
	if rec == nil || rec.Provider == nil {
		t.Fatal("expected a fresh provider instance")
	}
	if _, ok := reg.Get("sb-missing"); ok {
		t.Fatal("fresh record must not be auto-registered")
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(func() (Provider, error) { return &fakeProvider{name: "fake"}, nil }, time.Minute)
	first := &fakeProvider{name: "first"}
	second := &fakeProvider{name: "second"}

	reg.Register("sb-1", first)
	reg.Register("sb-1", second)

	rec, ok := reg.Get("sb-1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Provider.Name() != "second" {
		t.Fatalf("expected overwrite, got provider %q", rec.Provider.Name())
	}
	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 record, got %d", len(reg.List()))
	}
}

func TestTerminateRemovesEntryEvenOnProviderError(t *testing.T) {
	reg := NewRegistry(func() (Provider, error) { return &fakeProvider{name: "fake"}, nil }, time.Minute)
	reg.Register("sb-1", &failingTerminator{})

	if !reg.Terminate(context.Background(), "sb-1") {
		t.Fatal("expected terminate to find the record")
	}
	if _, ok := reg.Get("sb-1"); ok {
		t.Fatal("record should be removed despite terminate error")
	}
	if reg.Terminate(context.Background(), "sb-1") {
		t.Fatal("second terminate should report not found")
	}
}

type failingTerminator struct{ fakeProvider }

func (f *failingTerminator) Terminate(_ context.Context) error {
	return fmt.Errorf("backend unreachable")
}

func TestSweepRemovesExpired(t *testing.T) {
	reg := NewRegistry(func() (Provider, error) { return &fakeProvider{name: "fake"}, nil }, 10*time.Millisecond)
	stale := &fakeProvider{name: "stale"}
	reg.Register("sb-old", stale)
	time.Sleep(30 * time.Millisecond)
	fresh := reg.Register("sb-new", &fakeProvider{name: "fresh"})
	fresh.Touch()

	removed := reg.Sweep(context.Background())
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := reg.Get("sb-old"); ok {
		t.Fatal("expired record still present")
	}
	if _, ok := reg.Get("sb-new"); !ok {
		t.Fatal("fresh record swept")
	}
	stale.mu.Lock()
	terminated := stale.terminated
	stale.mu.Unlock()
	if !terminated {
		t.Fatal("expired sandbox was not terminated")
	}
}

func TestCreateSharedDedupesConcurrentCallers(t *testing.T) {
	reg := NewRegistry(func() (Provider, error) { return &fakeProvider{name: "fake"}, nil }, time.Minute)

	var creations atomic.Int32
	create := func(ctx context.Context) (*Record, error) {
		creations.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the in-flight call open
		return reg.Register("sb-shared", &fakeProvider{name: "fake"}), nil
	}

	var wg sync.WaitGroup
	records := make([]*Record, 8)
	for i := range records {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := reg.CreateShared(context.Background(), "origin-1", create)
			if err != nil {
				t.Errorf("CreateShared: %v", err)
				return
			}
			records[i] = rec
		}(i)
	}
	wg.Wait()

	if got := creations.Load(); got != 1 {
		t.Fatalf("expected 1 creation, got %d", got)
	}
	for _, rec := range records {
		if rec != records[0] {
			t.Fatal("callers received different records")
		}
	}
}

func TestKnownFilesClassification(t *testing.T) {
	rec := newRecord("sb-1", &fakeProvider{name: "fake"})
	if rec.KnownFile("src/App.jsx") {
		t.Fatal("unexpected known file")
	}
	rec.AddKnownFile("src/App.jsx")
	if !rec.KnownFile("src/App.jsx") {
		t.Fatal("known file not recorded")
	}
	rec.SeedKnownFiles([]string{"src/a.jsx", "src/b.jsx"})
	if rec.KnownFileCount() != 3 {
		t.Fatalf("count = %d", rec.KnownFileCount())
	}
}
