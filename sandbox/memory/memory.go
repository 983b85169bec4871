// Package memory implements an in-process sandbox backend. It backs
// development and tests: files live in a map, commands are recorded and
// succeed, and there is nothing to reconnect to once the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/openapply/openapply/sandbox"
)

// Provider is an in-process sandbox.
type Provider struct {
	mu       sync.Mutex
	id       string
	files    map[string]string
	commands []string
	live     bool
}

// New constructs an unconnected memory provider. It satisfies
// sandbox.Constructor.
func New() (sandbox.Provider, error) {
	return &Provider{files: make(map[string]string)}, nil
}

func (p *Provider) Name() string { return "memory" }

// CreateSandbox assigns an id and seeds the baseline project files a
// fresh runtime ships with.
func (p *Provider) CreateSandbox(_ context.Context) (sandbox.CreateInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = "mem-" + uuid.New().String()[:8]
	p.live = true
	return sandbox.CreateInfo{
		SandboxID: p.id,
		URL:       "memory://" + p.id,
	}, nil
}

// SetupRuntime seeds the scaffold files present before any apply run.
func (p *Provider) SetupRuntime(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return fmt.Errorf("sandbox not created")
	}
	p.files["index.html"] = "<!doctype html>\n<html>\n<body><div id=\"root\"></div></body>\n</html>\n"
	p.files["package.json"] = "{\n  \"name\": \"sandbox-app\",\n  \"private\": true\n}\n"
	return nil
}

func (p *Provider) WriteFile(_ context.Context, path, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return fmt.Errorf("sandbox %s terminated", p.id)
	}
	p.files[path] = content
	return nil
}

func (p *Provider) ReadFile(_ context.Context, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	content, ok := p.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}

func (p *Provider) ListFiles(_ context.Context, dir string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prefix := strings.TrimSuffix(dir, "/")
	if prefix != "" {
		prefix += "/"
	}
	var out []string
	for path := range p.files {
		if prefix == "" || strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RunCommand records the command and reports success. npm installs are
// echoed back in npm's "added N packages" shape so installer parsing has
// something realistic to chew on.
func (p *Provider) RunCommand(_ context.Context, cmd string) (sandbox.CommandOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live {
		return sandbox.CommandOutput{}, fmt.Errorf("sandbox %s terminated", p.id)
	}
	p.commands = append(p.commands, cmd)
	stdout := ""
	if strings.HasPrefix(cmd, "npm install") {
		stdout = "added 1 package in 0.1s\n"
	}
	return sandbox.CommandOutput{Stdout: stdout, ExitCode: 0}, nil
}

func (p *Provider) Terminate(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = false
	return nil
}

// Commands returns the commands run so far, for tests.
func (p *Provider) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}

// Files returns a copy of the current file map, for tests.
func (p *Provider) Files() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.files))
	for k, v := range p.files {
		out[k] = v
	}
	return out
}
