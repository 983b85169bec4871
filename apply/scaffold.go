package apply

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// mainComponentPriority orders filename stems by how likely they are to
// be the page's top-level piece when synthesizing a root component.
var mainComponentPriority = []string{"header", "hero", "layout", "main", "home"}

// componentName derives the exported identifier for a component file
// path ("src/NavBar.jsx" -> "NavBar").
func componentName(p string) string {
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

// isComponentPath reports whether a written file looks like a React
// component the root scaffold could import.
func isComponentPath(p string) bool {
	if !strings.HasPrefix(p, sourceRoot) {
		return false
	}
	switch path.Ext(p) {
	case ".jsx", ".tsx":
	default:
		return false
	}
	name := componentName(p)
	if name == "" || name == "App" || name == "main" || name == "index" {
		return false
	}
	return name[0] >= 'A' && name[0] <= 'Z'
}

// SynthesizeRootComponent builds a src/App.jsx that imports every
// generated component and renders them, with the most plausible main
// component first. componentPaths must be normalized.
func SynthesizeRootComponent(componentPaths []string) string {
	sorted := make([]string, len(componentPaths))
	copy(sorted, componentPaths)
	sort.SliceStable(sorted, func(i, j int) bool {
		return mainRank(sorted[i]) < mainRank(sorted[j])
	})

	var imports, renders []string
	for _, p := range sorted {
		name := componentName(p)
		rel := "./" + strings.TrimPrefix(strings.TrimSuffix(p, path.Ext(p)), sourceRoot)
		imports = append(imports, fmt.Sprintf("import %s from '%s';", name, rel))
		renders = append(renders, fmt.Sprintf("      <%s />", name))
	}

	return fmt.Sprintf(`import './index.css';
%s

function App() {
  return (
    <div className="min-h-screen">
%s
    </div>
  );
}

export default App;
`, strings.Join(imports, "\n"), strings.Join(renders, "\n"))
}

func mainRank(p string) int {
	stem := strings.ToLower(componentName(p))
	for i, want := range mainComponentPriority {
		if stem == want {
			return i
		}
	}
	return len(mainComponentPriority)
}

// BaselineStylesheet is written when a fresh generation produced no
// stylesheet of its own.
const BaselineStylesheet = `@tailwind base;
@tailwind components;
@tailwind utilities;

body {
  margin: 0;
  font-family: system-ui, -apple-system, sans-serif;
}
`
