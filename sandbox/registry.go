package sandbox

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Record tracks one live sandbox: its provider handle, access times, the
// set of files known to exist inside it, and a per-sandbox mutex that
// serializes apply runs against it. There is no process-wide "current
// sandbox" anywhere: every lookup is keyed by an explicit id.
type Record struct {
	SandboxID string
	Provider  Provider
	CreatedAt time.Time

	mu           sync.Mutex
	lastAccessed time.Time
	knownFiles   map[string]bool
	url          string

	applyMu sync.Mutex
}

func newRecord(id string, p Provider) *Record {
	now := time.Now().UTC()
	return &Record{
		SandboxID:    id,
		Provider:     p,
		CreatedAt:    now,
		lastAccessed: now,
		knownFiles:   make(map[string]bool),
	}
}

// Touch marks the record as recently used.
func (r *Record) Touch() {
	r.mu.Lock()
	r.lastAccessed = time.Now().UTC()
	r.mu.Unlock()
}

// LastAccessed returns the last access time.
func (r *Record) LastAccessed() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAccessed
}

// KnownFile reports whether a path is already known to exist in the
// sandbox. Used to classify writes as create vs update.
func (r *Record) KnownFile(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.knownFiles[path]
}

// AddKnownFile records a path as existing in the sandbox.
func (r *Record) AddKnownFile(path string) {
	r.mu.Lock()
	r.knownFiles[path] = true
	r.mu.Unlock()
}

// SeedKnownFiles records a batch of pre-existing paths, typically from a
// directory listing after a reconnect.
func (r *Record) SeedKnownFiles(paths []string) {
	r.mu.Lock()
	for _, p := range paths {
		r.knownFiles[p] = true
	}
	r.mu.Unlock()
}

// SetURL records the sandbox's public URL.
func (r *Record) SetURL(url string) {
	r.mu.Lock()
	r.url = url
	r.mu.Unlock()
}

// URL returns the sandbox's public URL, if known.
func (r *Record) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// KnownFileCount returns how many files the sandbox is known to hold.
func (r *Record) KnownFileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.knownFiles)
}

// LockApply serializes apply runs against this sandbox. Concurrent
// requests for different sandbox ids proceed independently.
func (r *Record) LockApply() { r.applyMu.Lock() }

// UnlockApply releases the apply lock.
func (r *Record) UnlockApply() { r.applyMu.Unlock() }

// Registry is the in-memory map of sandboxId to Record. It guarantees at
// most one live provider handle per id and dedupes concurrent creation
// requests from the same origin through a shared in-flight call.
type Registry struct {
	factory   Constructor
	retention time.Duration

	mu      sync.RWMutex
	records map[string]*Record

	group singleflight.Group
}

// NewRegistry creates a registry. factory constructs providers for the
// configured backend; retention is how long an untouched record survives
// a cleanup sweep.
func NewRegistry(factory Constructor, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 20 * time.Minute
	}
	return &Registry{
		factory:   factory,
		retention: retention,
		records:   make(map[string]*Record),
	}
}

// NewProvider constructs an unbound provider from the configured
// backend factory.
func (g *Registry) NewProvider() (Provider, error) {
	return g.factory()
}

// GetOrCreate resolves a sandbox id to a provider handle. A cached record
// is returned directly (touching lastAccessed). Otherwise a reconnect
// handshake is attempted for backends that support it; on success the
// reconnected handle is registered and returned. If neither works, a
// fresh, unregistered record is returned with registered=false: the
// caller must explicitly create, set up, and Register it.
func (g *Registry) GetOrCreate(ctx context.Context, id string) (rec *Record, registered bool, err error) {
	g.mu.RLock()
	rec, ok := g.records[id]
	g.mu.RUnlock()
	if ok {
		rec.Touch()
		return rec, true, nil
	}

	provider, err := g.factory()
	if err != nil {
		return nil, false, err
	}

	if rc, ok := provider.(Reconnecter); ok {
		if rerr := rc.Reconnect(ctx, id); rerr == nil {
			log.Printf("registry: reconnected to sandbox %s via %s", id, provider.Name())
			rec := g.Register(id, provider)
			// Seed the known-files set from the live tree so writes to
			// pre-existing files classify as updates, not creates.
			if paths, lerr := provider.ListFiles(ctx, ""); lerr == nil {
				rec.SeedKnownFiles(paths)
			} else {
				log.Printf("registry: listing files in reconnected sandbox %s: %v", id, lerr)
			}
			return rec, true, nil
		} else {
			log.Printf("registry: reconnect to sandbox %s failed: %v", id, rerr)
		}
	}

	return newRecord(id, provider), false, nil
}

// Register binds a provider handle to a sandbox id. Idempotent: a second
// registration for the same id overwrites the first, preserving the
// at-most-one-live-handle invariant.
func (g *Registry) Register(id string, p Provider) *Record {
	rec := newRecord(id, p)
	g.mu.Lock()
	g.records[id] = rec
	g.mu.Unlock()
	return rec
}

// Get returns the record for an id, if registered.
func (g *Registry) Get(id string) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[id]
	return rec, ok
}

// List returns a snapshot of all registered records.
func (g *Registry) List() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	return out
}

// Terminate tears down a sandbox and removes its record. Terminate
// failures from the provider are logged, not propagated; the entry is
// removed either way. Returns false if the id was not registered.
func (g *Registry) Terminate(ctx context.Context, id string) bool {
	g.mu.Lock()
	rec, ok := g.records[id]
	delete(g.records, id)
	g.mu.Unlock()
	if !ok {
		return false
	}
	if err := rec.Provider.Terminate(ctx); err != nil {
		log.Printf("registry: terminating sandbox %s: %v", id, err)
	}
	return true
}

// Sweep terminates and removes records whose last access exceeds the
// retention window. Returns the number of records removed.
func (g *Registry) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-g.retention)

	g.mu.Lock()
	var expired []*Record
	for id, rec := range g.records {
		if rec.LastAccessed().Before(cutoff) {
			expired = append(expired, rec)
			delete(g.records, id)
		}
	}
	g.mu.Unlock()

	for _, rec := range expired {
		log.Printf("registry: sweeping idle sandbox %s (last accessed %s)", rec.SandboxID, rec.LastAccessed().Format(time.RFC3339))
		if err := rec.Provider.Terminate(ctx); err != nil {
			log.Printf("registry: terminating swept sandbox %s: %v", rec.SandboxID, err)
		}
	}
	return len(expired)
}

// CreateShared runs create under a singleflight key so near-simultaneous
// creation requests from the same origin share one in-flight creation
// instead of provisioning duplicate sandboxes.
func (g *Registry) CreateShared(ctx context.Context, origin string, create func(ctx context.Context) (*Record, error)) (*Record, error) {
	v, err, _ := g.group.Do(origin, func() (any, error) {
		return create(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}
