package apply

import (
	"strings"
	"testing"
)

func TestSynthesizeRootComponentOrdersByHeuristic(t *testing.T) {
	got := SynthesizeRootComponent([]string{"src/Button.jsx", "src/Hero.jsx", "src/Footer.jsx"})

	heroAt := strings.Index(got, "<Hero />")
	buttonAt := strings.Index(got, "<Button />")
	footerAt := strings.Index(got, "<Footer />")
	if heroAt < 0 || buttonAt < 0 || footerAt < 0 {
		t.Fatalf("components missing:\n%s", got)
	}
	if heroAt > buttonAt || heroAt > footerAt {
		t.Fatalf("hero not rendered first:\n%s", got)
	}
	if !strings.Contains(got, "import Hero from './Hero';") {
		t.Fatalf("hero import missing:\n%s", got)
	}
	if !strings.Contains(got, "import './index.css';") {
		t.Fatalf("stylesheet import missing:\n%s", got)
	}
	if !strings.Contains(got, "export default App;") {
		t.Fatalf("no default export:\n%s", got)
	}
}

func TestSynthesizeRootComponentNestedPath(t *testing.T) {
	got := SynthesizeRootComponent([]string{"src/components/NavBar.jsx"})
	if !strings.Contains(got, "import NavBar from './components/NavBar';") {
		t.Fatalf("nested import wrong:\n%s", got)
	}
}

func TestIsComponentPath(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"src/Button.jsx", true},
		{"src/components/Nav.tsx", true},
		{"src/App.jsx", false},
		{"src/main.jsx", false},
		{"src/index.css", false},
		{"src/utils.jsx", false},
		{"public/logo.png", false},
	}
	for _, tc := range cases {
		if got := isComponentPath(tc.path); got != tc.want {
			t.Errorf("isComponentPath(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
