package parser

import (
	"regexp"
	"strings"
)

var (
	importFromRe    = regexp.MustCompile(`(?m)import\s+(?:type\s+)?[\w$*\s{},]*?\s*from\s*['"]([^'"]+)['"]`)
	importBareRe    = regexp.MustCompile(`(?m)^\s*import\s*['"]([^'"]+)['"]`)
	requireRe       = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
	dynamicImportRe = regexp.MustCompile(`import\(\s*['"]([^'"]+)['"]\s*\)`)
)

// builtinPackages are provided by the project runtime and must never be
// installed from a response's import statements.
var builtinPackages = map[string]bool{
	"react":                true,
	"react-dom":            true,
	"vite":                 true,
	"@vitejs/plugin-react": true,
	"tailwindcss":          true,
	"autoprefixer":         true,
	"postcss":              true,
}

var scriptExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// IsScriptPath reports whether the path points at a JavaScript/TypeScript
// source file whose imports are worth scanning.
func IsScriptPath(path string) bool {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return false
	}
	return scriptExtensions[path[idx:]]
}

// InferPackages scans a script file's import statements and returns the npm
// package names they pull in. Relative imports ("./x", "../x"), workspace
// aliases ("@/lib/x", "~/x"), and framework built-ins are excluded. Deep
// imports resolve to their package root ("lodash/fp" -> "lodash",
// "@scope/pkg/sub" -> "@scope/pkg").
func InferPackages(source string) []string {
	seen := make(map[string]bool)
	var out []string

	collect := func(matches [][]string) {
		for _, m := range matches {
			pkg := packageName(m[1])
			if pkg == "" || seen[pkg] {
				continue
			}
			seen[pkg] = true
			out = append(out, pkg)
		}
	}

	collect(importFromRe.FindAllStringSubmatch(source, -1))
	collect(importBareRe.FindAllStringSubmatch(source, -1))
	collect(requireRe.FindAllStringSubmatch(source, -1))
	collect(dynamicImportRe.FindAllStringSubmatch(source, -1))

	return out
}

// packageName maps an import specifier to an installable npm package name,
// or "" when the specifier should be excluded.
func packageName(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(spec, "./"),
		strings.HasPrefix(spec, "../"),
		strings.HasPrefix(spec, "/"),
		strings.HasPrefix(spec, "@/"),
		strings.HasPrefix(spec, "~/"):
		return ""
	}

	parts := strings.Split(spec, "/")
	var pkg string
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 {
			return ""
		}
		pkg = parts[0] + "/" + parts[1]
	} else {
		pkg = parts[0]
	}

	if builtinPackages[pkg] {
		return ""
	}
	return pkg
}
