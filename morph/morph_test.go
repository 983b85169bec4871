package morph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/openapply/openapply/model"
)

func TestParseEdits(t *testing.T) {
	resp := `<edit path="src/App.jsx">
<instructions>Add a loading state</instructions>
<update>
// ... existing code ...
const [loading, setLoading] = useState(false);
// ... existing code ...
</update>
</edit>
<edit path="src/Button.jsx">
<update>
export default () => <button>Go</button>;
</update>
</edit>`

	edits := ParseEdits(resp)
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits, got %d", len(edits))
	}
	if edits[0].TargetFile != "src/App.jsx" {
		t.Fatalf("target = %q", edits[0].TargetFile)
	}
	if edits[0].Instructions != "Add a loading state" {
		t.Fatalf("instructions = %q", edits[0].Instructions)
	}
	if !strings.Contains(edits[0].UpdateSnippet, "setLoading") {
		t.Fatalf("snippet = %q", edits[0].UpdateSnippet)
	}
	if edits[1].Instructions != "" {
		t.Fatalf("expected empty instructions, got %q", edits[1].Instructions)
	}
}

func TestParseEditsTolerantOfTruncation(t *testing.T) {
	resp := `<edit path="src/App.jsx">
<update>
new content
</update>` // no closing </edit>
	edits := ParseEdits(resp)
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}

	// A block without an update snippet is dropped, not an error.
	if got := ParseEdits(`<edit path="x.jsx"><instructions>hm</instructions></edit>`); len(got) != 0 {
		t.Fatalf("expected 0 edits, got %d", len(got))
	}
}

func TestHasEdits(t *testing.T) {
	if !HasEdits(`<edit path="a.jsx"><update>x</update></edit>`) {
		t.Fatal("expected edits detected")
	}
	if HasEdits(`<file path="a.jsx">x</file>`) {
		t.Fatal("expected no edits")
	}
}

func TestApplySnippetFullReplacement(t *testing.T) {
	r := NewResolver()
	got, err := r.ApplySnippet("old content", "brand new file")
	if err != nil {
		t.Fatalf("ApplySnippet: %v", err)
	}
	if got != "brand new file" {
		t.Fatalf("got %q", got)
	}
}

func TestApplySnippetSplicesChunk(t *testing.T) {
	current := `import React from 'react';

function App() {
  const [count, setCount] = useState(0);
  return <div>{count}</div>;
}

export default App;`

	snippet := `// ... existing code ...
  const [count, setCount] = useState(0);
  const [loading, setLoading] = useState(false);
  return <div>{count}</div>;
// ... existing code ...`

	r := NewResolver()
	got, err := r.ApplySnippet(current, snippet)
	if err != nil {
		t.Fatalf("ApplySnippet: %v", err)
	}
	if !strings.Contains(got, "setLoading") {
		t.Fatalf("patched content missing new line:\n%s", got)
	}
	if !strings.Contains(got, "import React from 'react';") {
		t.Fatalf("elided head span lost:\n%s", got)
	}
	if !strings.Contains(got, "export default App;") {
		t.Fatalf("elided tail span lost:\n%s", got)
	}
	if strings.Count(got, "const [count, setCount]") != 1 {
		t.Fatalf("anchored line duplicated:\n%s", got)
	}
}

func TestApplySnippetIsIdempotent(t *testing.T) {
	current := "a\nb\nc\nd"
	snippet := "// ... existing code ...\nb\nB2\nc\n// ... existing code ..."

	r := NewResolver()
	once, err := r.ApplySnippet(current, snippet)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	twice, err := r.ApplySnippet(once, snippet)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if once != twice {
		t.Fatalf("not idempotent:\n%q\n%q", once, twice)
	}
}

func TestApplySnippetUnanchorableFails(t *testing.T) {
	r := NewResolver()
	_, err := r.ApplySnippet("completely unrelated content", "// ... existing code ...\nzzzz_nothing_matches_this_zzzz\n// ... existing code ...")
	if err == nil {
		t.Fatal("expected anchoring error")
	}
}

// patchProvider implements FileReadWriter for ApplyEdit tests.
type patchProvider struct {
	files  map[string]string
	writes int
}

func (p *patchProvider) ReadFile(_ context.Context, path string) (string, error) {
	content, ok := p.files[path]
	if !ok {
		return "", fmt.Errorf("no such file: %s", path)
	}
	return content, nil
}
func (p *patchProvider) WriteFile(_ context.Context, path, content string) error {
	p.files[path] = content
	p.writes++
	return nil
}

func TestApplyEditWritesPatchedFile(t *testing.T) {
	p := &patchProvider{files: map[string]string{
		"src/App.jsx": "line1\nline2\nline3",
	}}
	r := NewResolver()

	edit := model.MorphEdit{
		TargetFile:    "src/App.jsx",
		UpdateSnippet: "// ... existing code ...\nline2\ninserted\nline3\n// ... existing code ...",
	}
	if err := r.ApplyEdit(context.Background(), p, "src/App.jsx", edit); err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if !strings.Contains(p.files["src/App.jsx"], "inserted") {
		t.Fatalf("file not patched: %q", p.files["src/App.jsx"])
	}
	if p.writes != 1 {
		t.Fatalf("writes = %d", p.writes)
	}

	// Re-applying the same patch must not write again.
	if err := r.ApplyEdit(context.Background(), p, "src/App.jsx", edit); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	if p.writes != 1 {
		t.Fatalf("no-op re-apply wrote anyway, writes = %d", p.writes)
	}
}

func TestApplyEditMissingFile(t *testing.T) {
	p := &patchProvider{files: map[string]string{}}
	r := NewResolver()
	if err := r.ApplyEdit(context.Background(), p, "src/App.jsx", model.MorphEdit{TargetFile: "src/App.jsx", UpdateSnippet: "x"}); err == nil {
		t.Fatal("expected error for missing file")
	}
}
