// Package morph implements the targeted-patch pathway: parsing independent
// <edit> blocks out of an AI response and applying each one to the live
// sandbox file it targets. A patch carries natural-language instructions
// and an update snippet that elides unchanged spans with marker lines such
// as "// ... existing code ...".
//
// Patches are applied individually: one failing patch never blocks the
// others, and every outcome is recorded per file.
package morph

import (
	"regexp"
	"strings"

	"github.com/openapply/openapply/model"
)

var (
	editOpenRe      = regexp.MustCompile(`<edit\s+(?:path|file)=["']([^"']+)["']\s*>`)
	instructionsRe  = regexp.MustCompile(`(?s)<instructions>(.*?)</instructions>`)
	updateRe        = regexp.MustCompile(`(?s)<update>(.*?)</update>`)
	elisionMarkerRe = regexp.MustCompile(`(?i)^\s*(?://|\{?/\*|#|<!--)?\s*\.\.\.\s*(?:existing|unchanged|rest of|other)\b.*$`)
)

// ParseEdits extracts every <edit path="..."> block from a response.
// Like the response parser, it tolerates truncation: a block without a
// closing tag runs to the next block or end of input, and blocks missing
// an <update> snippet are dropped.
func ParseEdits(response string) []model.MorphEdit {
	var edits []model.MorphEdit
	matches := editOpenRe.FindAllStringSubmatchIndex(response, -1)
	for i, m := range matches {
		target := strings.TrimSpace(response[m[2]:m[3]])
		if target == "" {
			continue
		}
		bodyStart := m[1]
		bodyEnd := len(response)
		if i+1 < len(matches) {
			bodyEnd = matches[i+1][0]
		}
		if rel := strings.Index(response[bodyStart:bodyEnd], "</edit>"); rel >= 0 {
			bodyEnd = bodyStart + rel
		}
		body := response[bodyStart:bodyEnd]

		update := ""
		if um := updateRe.FindStringSubmatch(body); um != nil {
			update = strings.Trim(um[1], "\n")
		}
		if update == "" {
			continue
		}

		instructions := ""
		if im := instructionsRe.FindStringSubmatch(body); im != nil {
			instructions = strings.TrimSpace(im[1])
		}

		edits = append(edits, model.MorphEdit{
			TargetFile:    target,
			Instructions:  instructions,
			UpdateSnippet: update,
		})
	}
	return edits
}

// HasEdits reports whether the response contains at least one patch block,
// without fully parsing it.
func HasEdits(response string) bool {
	return editOpenRe.MatchString(response)
}

// splitChunks breaks an update snippet into literal chunks separated by
// elision markers. A snippet with no markers is a whole-file replacement
// and yields nil.
func splitChunks(snippet string) [][]string {
	lines := strings.Split(snippet, "\n")
	var chunks [][]string
	var cur []string
	sawMarker := false
	flush := func() {
		trimmed := trimBlankEdges(cur)
		if len(trimmed) > 0 {
			chunks = append(chunks, trimmed)
		}
		cur = nil
	}
	for _, line := range lines {
		if elisionMarkerRe.MatchString(line) {
			sawMarker = true
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	if !sawMarker {
		return nil
	}
	return chunks
}

func trimBlankEdges(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}
