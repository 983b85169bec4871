// Package model defines the core domain types shared across all openapply
// packages. It has zero dependencies on other openapply packages.
package model

import "time"

// FileEntry is a single file extracted from an AI response, keyed by path.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ParsedResponse is the normalized change-set extracted from a raw AI
// response. Files are unique by path with the most complete candidate
// retained; packages are deduplicated; commands preserve order.
type ParsedResponse struct {
	Files       []FileEntry `json:"files"`
	Packages    []string    `json:"packages"`
	Commands    []string    `json:"commands"`
	Structure   string      `json:"structure,omitempty"`
	Explanation string      `json:"explanation,omitempty"`
}

// File returns the entry for the given path, if present.
func (p *ParsedResponse) File(path string) (FileEntry, bool) {
	for _, f := range p.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// FilePaths returns the paths of all extracted files, in extraction order.
func (p *ParsedResponse) FilePaths() []string {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// MorphEdit is a single targeted patch: a target file, natural-language
// instructions, and an update snippet that elides unchanged spans.
type MorphEdit struct {
	TargetFile    string `json:"targetFile"`
	Instructions  string `json:"instructions"`
	UpdateSnippet string `json:"updateSnippet"`
}

// CommandResult captures one shell command execution inside a sandbox.
type CommandResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// ApplyResult aggregates everything an apply run did, reflecting partial
// success explicitly. FilesCreated and FilesUpdated are disjoint sets of
// normalized paths.
type ApplyResult struct {
	FilesCreated             []string        `json:"filesCreated"`
	FilesUpdated             []string        `json:"filesUpdated"`
	PackagesInstalled        []string        `json:"packagesInstalled"`
	PackagesAlreadyInstalled []string        `json:"packagesAlreadyInstalled"`
	PackagesFailed           []string        `json:"packagesFailed"`
	CommandsExecuted         []CommandResult `json:"commandsExecuted"`
	MissingImports           []string        `json:"missingImports,omitempty"`
	Errors                   []string        `json:"errors,omitempty"`
}

// NewApplyResult returns a result with empty (non-nil) slices so every
// list field serializes as a JSON array.
func NewApplyResult() *ApplyResult {
	return &ApplyResult{
		FilesCreated:             []string{},
		FilesUpdated:             []string{},
		PackagesInstalled:        []string{},
		PackagesAlreadyInstalled: []string{},
		PackagesFailed:           []string{},
		CommandsExecuted:         []CommandResult{},
	}
}

// RecordFile classifies a written file as created or updated. The created
// and updated sets stay disjoint: once a path is recorded in a run, later
// writes of the same path keep its original classification, and a path
// never appears twice.
func (r *ApplyResult) RecordFile(path string, created bool) {
	for _, p := range r.FilesCreated {
		if p == path {
			return
		}
	}
	for _, p := range r.FilesUpdated {
		if p == path {
			return
		}
	}
	if created {
		r.FilesCreated = append(r.FilesCreated, path)
	} else {
		r.FilesUpdated = append(r.FilesUpdated, path)
	}
}

// AddError records a step-local failure without aborting the batch.
func (r *ApplyResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// ApplyRequest is the external request shape: a raw AI response, an edit
// flag, an explicit sandbox id, and an optional package hint list.
type ApplyRequest struct {
	Response  string   `json:"response"`
	IsEdit    bool     `json:"isEdit"`
	SandboxID string   `json:"sandboxId"`
	Packages  []string `json:"packages,omitempty"`
}

// RunStatus represents the current state of an apply run.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
)

// Run represents a single apply execution against one sandbox.
type Run struct {
	ID          string       `json:"id"`
	SandboxID   string       `json:"sandbox_id"`
	IsEdit      bool         `json:"is_edit"`
	Status      RunStatus    `json:"status"`
	Explanation string       `json:"explanation,omitempty"`
	Structure   string       `json:"structure,omitempty"`
	Result      *ApplyResult `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RunEvent represents a single progress event in a run's lifecycle.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
