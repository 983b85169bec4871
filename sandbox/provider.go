// Package sandbox defines the provider contract for remote execution
// environments and the registry that tracks sandbox identity and
// lifecycle. Concrete backends (E2B-style cloud runtimes, local
// containers, the in-process memory backend) register a constructor with
// the factory and are selected by configuration, never by runtime
// type-inspection of an instance.
package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CreateInfo describes a freshly created sandbox.
type CreateInfo struct {
	SandboxID string `json:"sandbox_id"`
	URL       string `json:"url"`
}

// CommandOutput captures one command execution inside a sandbox.
type CommandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Provider is the sole boundary to a concrete execution backend. All
// operations are fallible and honor the passed context.
type Provider interface {
	// Name returns the backend discriminant (e.g. "memory", "e2b").
	Name() string

	// CreateSandbox provisions a new sandbox and returns its identity.
	CreateSandbox(ctx context.Context) (CreateInfo, error)

	// SetupRuntime prepares the sandbox's project runtime (scaffolding,
	// base dependencies). Called once after CreateSandbox.
	SetupRuntime(ctx context.Context) error

	// WriteFile writes content to a path, creating parent directories.
	// Writing unchanged content is a no-op from the caller's view.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the content of a file.
	ReadFile(ctx context.Context, path string) (string, error)

	// ListFiles returns the paths of files under a directory. An empty
	// dir lists the whole project tree.
	ListFiles(ctx context.Context, dir string) ([]string, error)

	// RunCommand executes a shell command and captures its output.
	RunCommand(ctx context.Context, cmd string) (CommandOutput, error)

	// Terminate tears the sandbox down. Idempotent.
	Terminate(ctx context.Context) error
}

// Reconnecter is an optional capability: backends that can re-attach to a
// still-running sandbox by id implement it. The registry probes for it
// instead of inspecting concrete types.
type Reconnecter interface {
	Reconnect(ctx context.Context, sandboxID string) error
}

// Constructor builds a fresh, unconnected provider instance.
type Constructor func() (Provider, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Constructor)
)

// RegisterBackend makes a provider constructor selectable by name.
// Re-registering a name overwrites the previous constructor.
func RegisterBackend(name string, fn Constructor) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = fn
}

// NewProvider constructs a provider for the configured backend name.
func NewProvider(name string) (Provider, error) {
	backendsMu.RLock()
	fn, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sandbox backend %q (registered: %v)", name, Backends())
	}
	return fn()
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
