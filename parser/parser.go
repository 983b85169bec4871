// Package parser extracts files, packages, commands, structure text, and
// explanations from raw AI responses. The input format is semi-structured
// and frequently truncated mid-generation, so every extraction path is
// tolerant: malformed input at worst under-extracts, it never fails.
//
// Three file declaration styles are accepted:
//
//	<file path="src/App.jsx">...</file>
//	```jsx src/App.jsx ... ```
//	Generated Files: App.jsx, Button.jsx   (paired with bare fenced blocks)
package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/openapply/openapply/model"
)

var (
	fileOpenRe    = regexp.MustCompile(`<file\s+path=["']([^"']+)["']\s*>`)
	generatedRe   = regexp.MustCompile(`(?im)^\s*Generated Files?:\s*(.+)$`)
	pathAnnotRe   = regexp.MustCompile(`(?i)^(?:\*\*|//|#)?\s*(?:File:\s*)?([\w@./-]+\.(?:jsx?|tsx?|css|html|json|svg))\*{0,2}\s*$`)
	fencePathRe   = regexp.MustCompile(`([\w@./-]+\.(?:jsx?|tsx?|css|html|json|svg))`)
	structureRe   = regexp.MustCompile(`(?s)<structure>(.*?)</structure>`)
	explanationRe = regexp.MustCompile(`(?s)<explanation>(.*?)</explanation>`)
	packageRe     = regexp.MustCompile(`(?s)<package>(.*?)</package>`)
	packagesRe    = regexp.MustCompile(`(?s)<packages>(.*?)</packages>`)
	commandRe     = regexp.MustCompile(`(?s)<command>(.*?)</command>`)
	commandsRe    = regexp.MustCompile(`(?s)<commands>(.*?)</commands>`)
)

// fileCandidate is one possible version of a file found in the response.
type fileCandidate struct {
	path    string
	content string
	closed  bool
}

// Parse extracts a normalized change-set from a raw AI response.
// Parsing is idempotent and never fails.
func Parse(response string) *model.ParsedResponse {
	p := &model.ParsedResponse{}

	candidates := extractTaggedFiles(response)
	fenced, bare := extractFencedFiles(response)
	candidates = append(candidates, fenced...)
	candidates = append(candidates, pairGeneratedFiles(response, bare)...)
	p.Files = selectFiles(candidates)

	p.Packages = extractPackages(response, p.Files)
	p.Commands = extractCommands(response)

	if m := structureRe.FindStringSubmatch(response); m != nil {
		p.Structure = strings.TrimSpace(m[1])
	}
	if m := explanationRe.FindStringSubmatch(response); m != nil {
		p.Explanation = strings.TrimSpace(m[1])
	}

	return p
}

// extractTaggedFiles scans for <file path="..."> blocks. A block without a
// closing tag (truncated generation) is still captured: its content runs to
// the next opening tag or end of input.
func extractTaggedFiles(response string) []fileCandidate {
	var out []fileCandidate
	matches := fileOpenRe.FindAllStringSubmatchIndex(response, -1)
	for i, m := range matches {
		path := strings.TrimSpace(response[m[2]:m[3]])
		if path == "" {
			continue
		}
		contentStart := m[1]
		contentEnd := len(response)
		nextOpen := -1
		if i+1 < len(matches) {
			nextOpen = matches[i+1][0]
			contentEnd = nextOpen
		}

		closed := false
		if rel := strings.Index(response[contentStart:], "</file>"); rel >= 0 {
			closeIdx := contentStart + rel
			if nextOpen == -1 || closeIdx < nextOpen {
				contentEnd = closeIdx
				closed = true
			}
		}

		content := response[contentStart:contentEnd]
		if !closed {
			// Drop a trailing partial closing tag left by truncation.
			content = trimPartialCloseTag(content)
		}
		out = append(out, fileCandidate{
			path:    path,
			content: strings.Trim(content, "\n"),
			closed:  closed,
		})
	}
	return out
}

// trimPartialCloseTag removes an incomplete "</file" fragment at the end of
// truncated content.
func trimPartialCloseTag(s string) string {
	trimmed := strings.TrimRight(s, " \t\n")
	for i := len("</file>") - 1; i >= 2; i-- {
		suffix := "</file>"[:i]
		if strings.HasSuffix(trimmed, suffix) {
			return trimmed[:len(trimmed)-i]
		}
	}
	return s
}

// extractFencedFiles scans markdown code fences. A fence is attributed to a
// path when the fence info string carries one, or when the immediately
// preceding non-blank line is a path annotation. Fences with no path are
// returned separately for pairing with "Generated Files:" declarations.
func extractFencedFiles(response string) (annotated []fileCandidate, bare []string) {
	lines := strings.Split(response, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			i++
			continue
		}

		info := strings.TrimPrefix(strings.TrimSpace(line), "```")
		path := pathFromFenceInfo(info)
		if path == "" {
			path = pathFromPrecedingLine(lines, i)
		}

		var body []string
		closed := false
		j := i + 1
		for ; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				closed = true
				break
			}
			body = append(body, lines[j])
		}

		content := strings.Join(body, "\n")
		if path != "" {
			annotated = append(annotated, fileCandidate{path: path, content: content, closed: closed})
		} else if closed && looksLikeCode(content) {
			bare = append(bare, content)
		}
		i = j + 1
	}
	return annotated, bare
}

// pathFromFenceInfo pulls a file path out of a fence info string such as
// "jsx src/App.jsx" or "src/Button.jsx".
func pathFromFenceInfo(info string) string {
	for _, tok := range strings.Fields(info) {
		if strings.ContainsAny(tok, "/.") {
			if m := fencePathRe.FindString(tok); m != "" {
				return m
			}
		}
	}
	return ""
}

func pathFromPrecedingLine(lines []string, fenceIdx int) string {
	for k := fenceIdx - 1; k >= 0 && k >= fenceIdx-2; k-- {
		trimmed := strings.TrimSpace(lines[k])
		if trimmed == "" {
			continue
		}
		if m := pathAnnotRe.FindStringSubmatch(trimmed); m != nil {
			return m[1]
		}
		return ""
	}
	return ""
}

// looksLikeCode filters out prose-only fences (shell transcripts, plain
// text) so they are not mistaken for generated source files.
func looksLikeCode(content string) bool {
	return strings.ContainsAny(content, "{;=<") || strings.Contains(content, "import ")
}

// pairGeneratedFiles handles the legacy "Generated Files: a.jsx, b.jsx"
// declaration by pairing the declared names, in order, with bare fenced
// code blocks found in the response. Names without a matching block are
// dropped.
func pairGeneratedFiles(response string, bare []string) []fileCandidate {
	m := generatedRe.FindStringSubmatch(response)
	if m == nil {
		return nil
	}
	var out []fileCandidate
	names := strings.Split(m[1], ",")
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || i >= len(bare) {
			continue
		}
		out = append(out, fileCandidate{path: name, content: bare[i], closed: true})
	}
	return out
}

// selectFiles keeps one candidate per path. Selection order: a candidate
// with a closing tag beats one without; among candidates of the same
// closedness, longer content wins. Discovery order never affects the
// outcome.
func selectFiles(candidates []fileCandidate) []model.FileEntry {
	best := make(map[string]fileCandidate)
	var order []string
	for _, c := range candidates {
		key := cleanPath(c.path)
		if key == "" {
			continue
		}
		cur, ok := best[key]
		if !ok {
			best[key] = c
			order = append(order, key)
			continue
		}
		if better(c, cur) {
			best[key] = c
		}
	}

	files := make([]model.FileEntry, 0, len(order))
	for _, key := range order {
		files = append(files, model.FileEntry{Path: key, Content: best[key].content})
	}
	return files
}

func better(a, b fileCandidate) bool {
	if a.closed != b.closed {
		return a.closed
	}
	return len(a.content) > len(b.content)
}

// cleanPath strips leading "/" and "./" so the same file declared two ways
// dedupes to one entry. Full normalization (source-root prefixing) happens
// in the apply pipeline.
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return p
}

// extractPackages merges <package>/<packages> tag contents with packages
// inferred from the import statements of every extracted script file,
// deduplicated in first-seen order.
func extractPackages(response string, files []model.FileEntry) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(pkg string) {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" || seen[pkg] {
			return
		}
		seen[pkg] = true
		out = append(out, pkg)
	}

	for _, m := range packageRe.FindAllStringSubmatch(response, -1) {
		add(m[1])
	}
	for _, m := range packagesRe.FindAllStringSubmatch(response, -1) {
		for _, pkg := range splitList(m[1]) {
			add(pkg)
		}
	}
	for _, f := range files {
		if !IsScriptPath(f.Path) {
			continue
		}
		for _, pkg := range InferPackages(f.Content) {
			add(pkg)
		}
	}
	return out
}

// extractCommands collects <command> and <commands> blocks in document
// order, so interleaved tag styles keep the order the response asked for.
func extractCommands(response string) []string {
	type block struct {
		pos  int
		cmds []string
	}
	var blocks []block
	for _, m := range commandRe.FindAllStringSubmatchIndex(response, -1) {
		if cmd := strings.TrimSpace(response[m[2]:m[3]]); cmd != "" {
			blocks = append(blocks, block{pos: m[0], cmds: []string{cmd}})
		}
	}
	for _, m := range commandsRe.FindAllStringSubmatchIndex(response, -1) {
		if cmds := splitLines(response[m[2]:m[3]]); len(cmds) > 0 {
			blocks = append(blocks, block{pos: m[0], cmds: cmds})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].pos < blocks[j].pos })

	var out []string
	for _, b := range blocks {
		out = append(out, b.cmds...)
	}
	return out
}

// splitList splits on commas and newlines, trimming each element.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			out = append(out, l)
		}
	}
	return out
}
