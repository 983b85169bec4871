package apply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPInstallerFoldsServiceOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Packages []string `json:"packages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode install request: %v", err)
		}
		if len(req.Packages) != 3 {
			t.Errorf("packages = %v", req.Packages)
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"installed":        {"lodash"},
			"alreadyInstalled": {"axios"},
			"failed":           {"no-such-pkg"},
		})
	}))
	defer srv.Close()

	inst := NewHTTPInstaller(srv.URL)
	report, err := inst.Install(context.Background(), nil, []string{"lodash", "axios", "no-such-pkg"}, nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(report.Installed) != 1 || report.Installed[0] != "lodash" {
		t.Errorf("installed = %v", report.Installed)
	}
	if len(report.AlreadyInstalled) != 1 || report.AlreadyInstalled[0] != "axios" {
		t.Errorf("alreadyInstalled = %v", report.AlreadyInstalled)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "no-such-pkg" {
		t.Errorf("failed = %v", report.Failed)
	}
}

func TestHTTPInstallerServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "install backend down", http.StatusBadGateway)
	}))
	defer srv.Close()

	inst := NewHTTPInstaller(srv.URL)
	report, err := inst.Install(context.Background(), nil, []string{"lodash"}, nil)
	if err == nil {
		t.Fatal("expected error from failing service")
	}
	if len(report.Failed) != 1 || report.Failed[0] != "lodash" {
		t.Errorf("failed = %v", report.Failed)
	}
}

func TestHTTPCompleterReturnsGeneratedFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MissingImports []string `json:"missingImports"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode completion request: %v", err)
		}
		if len(req.MissingImports) != 1 || req.MissingImports[0] != "./Hero" {
			t.Errorf("missingImports = %v", req.MissingImports)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{
				{"path": "src/Hero.jsx", "content": "export default () => null;"},
			},
		})
	}))
	defer srv.Close()

	comp := NewHTTPCompleter(srv.URL)
	files, err := comp.Complete(context.Background(), []string{"./Hero"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if files["src/Hero.jsx"] == "" {
		t.Fatalf("files = %v", files)
	}
}

func TestHTTPCompleterServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "generator overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	comp := NewHTTPCompleter(srv.URL)
	if _, err := comp.Complete(context.Background(), []string{"./Hero"}); err == nil {
		t.Fatal("expected error from failing service")
	}
}
