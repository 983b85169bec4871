package apply

import (
	"path"
	"strings"
)

// Project layout constants for the Vite/React runtime the sandboxes run.
const (
	sourceRoot = "src/"
	publicRoot = "public/"
	entryHTML  = "index.html"

	// RootComponentPath is the app's main component file.
	RootComponentPath = "src/App.jsx"

	baselineStylesheet = "src/index.css"
)

// protectedConfigs are scaffold files the pipeline must never overwrite
// in place. Incoming files matching one of these basenames are dropped
// before any write.
var protectedConfigs = map[string]bool{
	"package.json":       true,
	"package-lock.json":  true,
	"vite.config.js":     true,
	"vite.config.ts":     true,
	"tailwind.config.js": true,
	"postcss.config.js":  true,
	"tsconfig.json":      true,
	"eslint.config.js":   true,
}

// IsProtectedPath reports whether a path's basename names a protected
// config file.
func IsProtectedPath(p string) bool {
	return protectedConfigs[path.Base(strings.TrimSpace(p))]
}

// NormalizePath maps a parsed file path onto the sandbox project
// layout: the leading slash is stripped, and anything not already under
// an allowed root is placed under the source root. `Foo.jsx` becomes
// `src/Foo.jsx`; `public/logo.png` and `index.html` pass through.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, sourceRoot) || strings.HasPrefix(p, publicRoot) {
		return p
	}
	if p == entryHTML || protectedConfigs[p] {
		return p
	}
	return sourceRoot + p
}
