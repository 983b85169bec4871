package apply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openapply/openapply/progress"
	"github.com/openapply/openapply/sandbox"
)

// InstallReport is the outcome of a package-install pass.
type InstallReport struct {
	Installed        []string
	AlreadyInstalled []string
	Failed           []string
}

// PackageInstaller installs npm packages into a sandbox. Implementations
// report per-package outcomes and may narrate progress on the stream.
type PackageInstaller interface {
	Install(ctx context.Context, p sandbox.Provider, packages []string, stream *progress.Stream) (InstallReport, error)
}

// ImportCompleter generates component files for unresolved relative
// imports. Completion is a compensation step with its own outcome: it
// either returns generated files to merge, or a structured failure.
type ImportCompleter interface {
	Complete(ctx context.Context, missing []string) (map[string]string, error)
}

// NpmInstaller installs packages by running npm inside the sandbox, one
// package per command so a bad package name cannot sink the batch.
type NpmInstaller struct{}

// Install runs `npm install <pkg>` per package. "up to date" output
// classifies the package as already installed.
func (NpmInstaller) Install(ctx context.Context, p sandbox.Provider, packages []string, stream *progress.Stream) (InstallReport, error) {
	var report InstallReport
	for i, pkg := range packages {
		stream.Emit(progress.Event{
			Type:     progress.TypePackageProgress,
			Message:  fmt.Sprintf("Installing %s", pkg),
			Packages: []string{pkg},
			Current:  i + 1,
			Total:    len(packages),
		})
		out, err := p.RunCommand(ctx, fmt.Sprintf("npm install %s --no-audit --no-fund", pkg))
		if err != nil || out.ExitCode != 0 {
			report.Failed = append(report.Failed, pkg)
			if err != nil {
				stream.Warning(fmt.Sprintf("npm install %s: %v", pkg, err))
			} else {
				stream.Warning(fmt.Sprintf("npm install %s exited %d: %s", pkg, out.ExitCode, firstLine(out.Stderr)))
			}
			continue
		}
		if strings.Contains(out.Stdout, "up to date") {
			report.AlreadyInstalled = append(report.AlreadyInstalled, pkg)
		} else {
			report.Installed = append(report.Installed, pkg)
		}
	}
	return report, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// HTTPInstaller delegates package installation to an external install
// service keyed by sandbox id.
type HTTPInstaller struct {
	URL    string
	Client *http.Client
}

// NewHTTPInstaller creates an installer against an install endpoint.
func NewHTTPInstaller(url string) *HTTPInstaller {
	return &HTTPInstaller{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: 120 * time.Second},
	}
}

// Install posts the package list and folds the service's per-package
// outcomes into the report.
func (c *HTTPInstaller) Install(ctx context.Context, p sandbox.Provider, packages []string, stream *progress.Stream) (InstallReport, error) {
	var report InstallReport
	stream.Emit(progress.Event{
		Type:     progress.TypePackageProgress,
		Message:  fmt.Sprintf("Installing %d packages", len(packages)),
		Packages: packages,
		Total:    len(packages),
	})

	body, err := json.Marshal(map[string]any{"packages": packages})
	if err != nil {
		return report, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return report, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		report.Failed = append(report.Failed, packages...)
		return report, fmt.Errorf("install request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		report.Failed = append(report.Failed, packages...)
		return report, fmt.Errorf("install service returned %d: %s", resp.StatusCode, firstLine(string(b)))
	}

	var payload struct {
		Installed        []string `json:"installed"`
		AlreadyInstalled []string `json:"alreadyInstalled"`
		Failed           []string `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		report.Failed = append(report.Failed, packages...)
		return report, fmt.Errorf("decoding install response: %w", err)
	}
	report.Installed = payload.Installed
	report.AlreadyInstalled = payload.AlreadyInstalled
	report.Failed = payload.Failed
	return report, nil
}

// HTTPCompleter asks an external generation service for component files
// matching unresolved relative import paths.
type HTTPCompleter struct {
	URL    string
	Client *http.Client
}

// NewHTTPCompleter creates a completer against a generation endpoint.
func NewHTTPCompleter(url string) *HTTPCompleter {
	return &HTTPCompleter{
		URL:    strings.TrimRight(url, "/"),
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Complete posts the missing import list and returns generated files
// keyed by path.
func (c *HTTPCompleter) Complete(ctx context.Context, missing []string) (map[string]string, error) {
	body, err := json.Marshal(map[string]any{"missingImports": missing})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("import completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("import completion returned %d: %s", resp.StatusCode, firstLine(string(b)))
	}

	var payload struct {
		Files []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding import completion response: %w", err)
	}
	files := make(map[string]string, len(payload.Files))
	for _, f := range payload.Files {
		files[f.Path] = f.Content
	}
	return files, nil
}
