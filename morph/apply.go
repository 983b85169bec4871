package morph

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/openapply/openapply/model"
)

// FileReadWriter is the subset of the sandbox provider contract the
// resolver needs.
type FileReadWriter interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
}

// anchorThreshold is the minimum per-line similarity for a fuzzy anchor
// match. Below this, a chunk is considered unanchorable and the patch
// fails rather than splicing into the wrong place.
const anchorThreshold = 0.6

// Resolver applies targeted patches to sandbox files.
type Resolver struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewResolver creates a patch resolver.
func NewResolver() *Resolver {
	return &Resolver{dmp: diffmatchpatch.New()}
}

// ApplyEdit reads the target file from the sandbox, splices the update
// snippet into it, and writes it back. The target path must already be
// normalized. Re-applying an identical patch is a no-op write.
func (r *Resolver) ApplyEdit(ctx context.Context, p FileReadWriter, path string, edit model.MorphEdit) error {
	current, err := p.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	next, err := r.ApplySnippet(current, edit.UpdateSnippet)
	if err != nil {
		return fmt.Errorf("patching %s: %w", path, err)
	}
	if next == current {
		return nil
	}
	if err := p.WriteFile(ctx, path, next); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ApplySnippet splices an update snippet into the current file content.
// A snippet without elision markers replaces the whole file. Otherwise
// each literal chunk is anchored in the current content by its first and
// last lines (exact match first, then fuzzy via diff-match-patch) and the
// anchored region is replaced by the chunk. Spans covered by markers are
// kept untouched.
func (r *Resolver) ApplySnippet(current, snippet string) (string, error) {
	chunks := splitChunks(snippet)
	if chunks == nil {
		return snippet, nil
	}

	lines := strings.Split(current, "\n")
	var out []string
	cursor := 0

	for _, chunk := range chunks {
		hi, lo, err := r.anchorRegion(lines, cursor, chunk)
		if err != nil {
			return "", err
		}
		out = append(out, lines[cursor:hi]...)
		out = append(out, chunk...)
		cursor = lo + 1
	}
	out = append(out, lines[cursor:]...)

	return strings.Join(out, "\n"), nil
}

// anchorRegion locates the span of current lines a chunk replaces. The
// chunk's first line anchors the start; its last line anchors the end,
// searched within a bounded window so a repeated tail line elsewhere in
// the file cannot swallow unrelated content.
func (r *Resolver) anchorRegion(lines []string, from int, chunk []string) (hi, lo int, err error) {
	head := chunk[0]
	hi = r.findLine(lines, from, head)
	if hi < 0 {
		return 0, 0, fmt.Errorf("could not anchor update snippet at %q", model.Truncate(strings.TrimSpace(head), 60))
	}
	if len(chunk) == 1 {
		return hi, hi, nil
	}

	tail := chunk[len(chunk)-1]
	window := hi + 2*len(chunk)
	if window > len(lines) {
		window = len(lines)
	}
	lo = -1
	best := anchorThreshold
	for i := hi + 1; i < window; i++ {
		if sim := r.lineSimilarity(lines[i], tail); sim >= best {
			best = sim
			lo = i
		}
	}
	if lo < 0 {
		// The chunk's tail is new content: treat the chunk as replacing
		// only the anchored head line.
		return hi, hi, nil
	}
	return hi, lo, nil
}

// findLine returns the first index at or after from whose line matches the
// target, preferring exact (whitespace-insensitive) matches and falling
// back to the best fuzzy match above the anchor threshold.
func (r *Resolver) findLine(lines []string, from int, target string) int {
	want := strings.TrimSpace(target)
	for i := from; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == want {
			return i
		}
	}
	bestIdx, bestSim := -1, anchorThreshold
	for i := from; i < len(lines); i++ {
		if sim := r.lineSimilarity(lines[i], target); sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	return bestIdx
}

// lineSimilarity is a dice coefficient over the equal spans reported by
// diff-match-patch, after trimming indentation.
func (r *Resolver) lineSimilarity(a, b string) float64 {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	common := 0
	for _, d := range r.dmp.DiffMain(a, b, false) {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}
