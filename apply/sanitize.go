package apply

import (
	"regexp"
	"strings"

	"github.com/openapply/openapply/parser"
)

// sameDirCSSImportRe matches same-directory stylesheet imports that LLM
// output habitually includes for component files that have no matching
// stylesheet ("import './Button.css'"). Leaving them in breaks the Vite
// build, so they are stripped from script files. The project stylesheet
// (index.css) is real and stays.
var sameDirCSSImportRe = regexp.MustCompile(`(?m)^\s*import\s+['"]\./([^'"]+)\.css['"];?\s*\r?\n?`)

// tailwindRewrites maps utility classes generated against a themed
// Tailwind setup onto the plain equivalents the sandbox scaffold
// actually defines.
var tailwindRewrites = map[string]string{
	"border-border":         "border",
	"bg-background":         "bg-white",
	"text-foreground":       "text-gray-900",
	"bg-primary":            "bg-blue-600",
	"text-primary":          "text-blue-600",
	"bg-secondary":          "bg-gray-200",
	"text-secondary":        "text-gray-600",
	"bg-muted":              "bg-gray-100",
	"text-muted-foreground": "text-gray-500",
	"bg-card":               "bg-white",
	"text-card-foreground":  "text-gray-900",
	"bg-destructive":        "bg-red-600",
	"ring-ring":             "ring-blue-500",
}

// SanitizeContent adjusts generated file content for the sandbox
// runtime. Script files lose same-directory CSS imports; all files get
// unsupported Tailwind theme classes rewritten to supported ones.
func SanitizeContent(path, content string) string {
	if parser.IsScriptPath(path) {
		content = sameDirCSSImportRe.ReplaceAllStringFunc(content, func(m string) string {
			if sub := sameDirCSSImportRe.FindStringSubmatch(m); len(sub) == 2 && sub[1] == "index" {
				return m
			}
			return ""
		})
	}
	for from, to := range tailwindRewrites {
		content = rewriteClass(content, from, to)
	}
	return content
}

// rewriteClass replaces a utility class token without touching longer
// tokens that merely share the prefix (border-border-2 stays intact).
func rewriteClass(content, from, to string) string {
	if !strings.Contains(content, from) {
		return content
	}
	re := regexp.MustCompile(`(^|[\s'"` + "`" + `])` + regexp.QuoteMeta(from) + `($|[\s'"` + "`" + `])`)
	for re.MatchString(content) {
		content = re.ReplaceAllString(content, "${1}"+to+"${2}")
	}
	return content
}
