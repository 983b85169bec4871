// Package apply executes a parsed change-set against one sandbox: it
// installs packages, applies targeted patches, writes files, runs
// commands, and narrates every milestone to a progress stream. Step
// failures are local; the pipeline always runs to the end and reports
// partial success explicitly.
package apply

import (
	"context"
	"fmt"
	"log"
	"path"
	"regexp"
	"strings"

	"github.com/openapply/openapply/model"
	"github.com/openapply/openapply/morph"
	"github.com/openapply/openapply/parser"
	"github.com/openapply/openapply/progress"
	"github.com/openapply/openapply/sandbox"
)

// preinstalled are packages the sandbox runtime ships with; they are
// never reinstalled.
var preinstalled = map[string]bool{
	"react":                true,
	"react-dom":            true,
	"vite":                 true,
	"@vitejs/plugin-react": true,
	"tailwindcss":          true,
	"autoprefixer":         true,
	"postcss":              true,
}

// Pipeline applies change-sets to sandboxes.
type Pipeline struct {
	installer PackageInstaller
	completer ImportCompleter // nil disables import completion
	resolver  *morph.Resolver
	morphOn   bool
}

// New creates a pipeline. completer may be nil.
func New(installer PackageInstaller, completer ImportCompleter, morphEnabled bool) *Pipeline {
	return &Pipeline{
		installer: installer,
		completer: completer,
		resolver:  morph.NewResolver(),
		morphOn:   morphEnabled,
	}
}

// Run executes the full apply algorithm against the sandbox record's
// provider. It never returns an error: every failure is recorded in the
// result, and the caller decides what partial success means. The stream
// may be nil.
func (pl *Pipeline) Run(ctx context.Context, rec *sandbox.Record, req model.ApplyRequest, parsed *model.ParsedResponse, stream *progress.Stream) *model.ApplyResult {
	result := model.NewApplyResult()
	provider := rec.Provider

	stream.Emit(progress.Event{
		Type:    progress.TypeStart,
		Message: fmt.Sprintf("Applying %d files to sandbox %s", len(parsed.Files), rec.SandboxID),
		Total:   len(parsed.Files),
	})

	// Step 1: drop protected config files.
	files := make([]model.FileEntry, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		if IsProtectedPath(f.Path) {
			stream.Warning(fmt.Sprintf("Skipping protected config file %s", f.Path))
			continue
		}
		files = append(files, f)
	}

	// Step 2: resolve the package set.
	packages := resolvePackages(req.Packages, parsed.Packages)

	// Step 3: install packages. Failure does not block file writes.
	if len(packages) > 0 {
		stream.Step("packages", fmt.Sprintf("Installing %d packages", len(packages)))
		report, err := pl.installer.Install(ctx, provider, packages, stream)
		if err != nil {
			result.AddError(fmt.Sprintf("package installation: %v", err))
		}
		result.PackagesInstalled = append(result.PackagesInstalled, report.Installed...)
		result.PackagesAlreadyInstalled = append(result.PackagesAlreadyInstalled, report.AlreadyInstalled...)
		result.PackagesFailed = append(result.PackagesFailed, report.Failed...)
	}

	// Step 4: targeted patches. Successfully patched paths are excluded
	// from the full-file pass so a stale rewrite cannot clobber them.
	patched := make(map[string]bool)
	if req.IsEdit && pl.morphOn && morph.HasEdits(req.Response) {
		stream.Step("patches", "Applying targeted patches")
		for _, edit := range morph.ParseEdits(req.Response) {
			target := NormalizePath(edit.TargetFile)
			stream.FileProgress(target, 0, 0)
			if err := pl.resolver.ApplyEdit(ctx, provider, target, edit); err != nil {
				result.AddError(fmt.Sprintf("patch %s: %v", target, err))
				stream.FileError(target, err.Error())
				continue
			}
			patched[target] = true
			result.RecordFile(target, false)
			rec.AddKnownFile(target)
			stream.FileComplete(target)
		}
	}

	// Step 5: full-file writes.
	stream.Step("files", fmt.Sprintf("Writing %d files", len(files)))
	written := make(map[string]bool)
	for i, f := range files {
		target := NormalizePath(f.Path)
		if target == "" {
			continue
		}
		if patched[target] {
			stream.Info(fmt.Sprintf("Skipping %s: already patched this run", target))
			continue
		}
		stream.FileProgress(target, i+1, len(files))
		content := SanitizeContent(target, f.Content)
		if err := provider.WriteFile(ctx, target, content); err != nil {
			result.AddError(fmt.Sprintf("write %s: %v", target, err))
			stream.FileError(target, err.Error())
			continue
		}
		created := !rec.KnownFile(target)
		rec.AddKnownFile(target)
		result.RecordFile(target, created)
		written[target] = true
		stream.FileComplete(target)
	}

	// Step 6: synthesize a root component for fresh generations.
	if !req.IsEdit {
		pl.ensureRootComponent(ctx, rec, written, result, stream)
	}

	// Step 7: run requested commands sequentially, continuing past
	// failures.
	for _, cmd := range parsed.Commands {
		stream.Emit(progress.Event{Type: progress.TypeCommandProgress, Command: cmd})
		out, err := provider.RunCommand(ctx, cmd)
		if err != nil {
			result.AddError(fmt.Sprintf("command %q: %v", cmd, err))
			stream.Emit(progress.Event{Type: progress.TypeCommandComplete, Command: cmd, Error: err.Error()})
			continue
		}
		if out.Stdout != "" || out.Stderr != "" {
			stream.Emit(progress.Event{
				Type:    progress.TypeCommandOutput,
				Command: cmd,
				Output:  model.Truncate(out.Stdout+out.Stderr, 2000),
			})
		}
		result.CommandsExecuted = append(result.CommandsExecuted, model.CommandResult{
			Command:  cmd,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			ExitCode: out.ExitCode,
		})
		if out.ExitCode != 0 {
			result.AddError(fmt.Sprintf("command %q exited %d", cmd, out.ExitCode))
		}
		stream.Emit(progress.Event{Type: progress.TypeCommandComplete, Command: cmd, ExitCode: out.ExitCode})
	}

	// Step 8: detect unresolved relative imports in the root component
	// and run the completion step if a completer is wired.
	pl.completeMissingImports(ctx, rec, parsed, result, stream)

	return result
}

// resolvePackages merges the explicit hint list with parsed packages,
// dropping duplicates and runtime-preinstalled packages. First-seen
// order is kept.
func resolvePackages(hints, parsed []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pkg := range append(append([]string{}, hints...), parsed...) {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" || seen[pkg] || preinstalled[pkg] {
			continue
		}
		seen[pkg] = true
		out = append(out, pkg)
	}
	return out
}

// ensureRootComponent synthesizes src/App.jsx when a fresh generation
// produced no root component and the sandbox has none, and writes a
// baseline stylesheet if the run produced none.
func (pl *Pipeline) ensureRootComponent(ctx context.Context, rec *sandbox.Record, written map[string]bool, result *model.ApplyResult, stream *progress.Stream) {
	provider := rec.Provider
	if written[RootComponentPath] || rec.KnownFile(RootComponentPath) {
		return
	}
	if _, err := provider.ReadFile(ctx, RootComponentPath); err == nil {
		rec.AddKnownFile(RootComponentPath)
		return
	}

	var components []string
	for p := range written {
		if isComponentPath(p) {
			components = append(components, p)
		}
	}
	if len(components) == 0 {
		return
	}

	stream.Info("No root component found, generating src/App.jsx")
	content := SynthesizeRootComponent(components)
	if err := provider.WriteFile(ctx, RootComponentPath, content); err != nil {
		result.AddError(fmt.Sprintf("write %s: %v", RootComponentPath, err))
		stream.FileError(RootComponentPath, err.Error())
		return
	}
	rec.AddKnownFile(RootComponentPath)
	result.RecordFile(RootComponentPath, true)
	stream.FileComplete(RootComponentPath)

	if !written[baselineStylesheet] && !rec.KnownFile(baselineStylesheet) {
		if err := provider.WriteFile(ctx, baselineStylesheet, BaselineStylesheet); err != nil {
			result.AddError(fmt.Sprintf("write %s: %v", baselineStylesheet, err))
			return
		}
		rec.AddKnownFile(baselineStylesheet)
		result.RecordFile(baselineStylesheet, true)
		stream.FileComplete(baselineStylesheet)
	}
}

// relativeImportRe captures relative import specifiers in the root
// component.
var relativeImportRe = regexp.MustCompile(`import\s+(?:[\w{},*\s]+\s+from\s+)?['"](\.{1,2}/[^'"]+)['"]`)

// completeMissingImports scans the root component for relative imports
// with no corresponding file, records them on the result, and — when a
// completer is configured — runs the completion step and writes whatever
// it generates. Completion failure is recorded, never fatal.
func (pl *Pipeline) completeMissingImports(ctx context.Context, rec *sandbox.Record, parsed *model.ParsedResponse, result *model.ApplyResult, stream *progress.Stream) {
	provider := rec.Provider
	root, err := provider.ReadFile(ctx, RootComponentPath)
	if err != nil {
		return
	}

	known := make(map[string]bool)
	for _, f := range parsed.Files {
		known[strings.TrimSuffix(NormalizePath(f.Path), path.Ext(f.Path))] = true
	}

	var missing []string
	for _, m := range relativeImportRe.FindAllStringSubmatch(root, -1) {
		spec := m[1]
		if strings.Contains(spec, ".css") {
			continue
		}
		resolved := path.Join(path.Dir(RootComponentPath), spec)
		if known[strings.TrimSuffix(resolved, path.Ext(resolved))] || rec.KnownFile(resolved+".jsx") || rec.KnownFile(resolved+".tsx") || rec.KnownFile(resolved) {
			continue
		}
		missing = append(missing, spec)
	}
	if len(missing) == 0 {
		return
	}

	result.MissingImports = append(result.MissingImports, missing...)
	stream.Warning(fmt.Sprintf("Root component references %d missing imports: %s", len(missing), strings.Join(missing, ", ")))

	if pl.completer == nil {
		return
	}

	stream.Step("import-completion", "Generating missing component files")
	generated, err := pl.completer.Complete(ctx, missing)
	if err != nil {
		result.AddError(fmt.Sprintf("import completion: %v", err))
		stream.Warning(fmt.Sprintf("Import completion failed: %v", err))
		return
	}
	for p, content := range generated {
		target := NormalizePath(p)
		if !parser.IsScriptPath(target) && !strings.HasSuffix(target, ".css") {
			log.Printf("apply: ignoring non-source completion file %s", target)
			continue
		}
		if err := provider.WriteFile(ctx, target, SanitizeContent(target, content)); err != nil {
			result.AddError(fmt.Sprintf("write %s: %v", target, err))
			continue
		}
		created := !rec.KnownFile(target)
		rec.AddKnownFile(target)
		result.RecordFile(target, created)
		stream.FileComplete(target)
	}
}
