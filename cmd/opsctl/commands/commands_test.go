package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type fakeBackend struct {
	mu   sync.Mutex
	cats map[string]string
	hits []string
}

func (f *fakeBackend) hit(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.hits {
		if h == path {
			return true
		}
	}
	return false
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits = append(f.hits, r.URL.Path)
	f.mu.Unlock()

	write := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	switch r.URL.Path {
	case "/index/status":
		write(map[string]any{"status": "running", "progress": 3, "total": 4})
	case "/tasks/status":
		write(map[string]any{"cancelled": false})
	case "/categories":
		f.mu.Lock()
		cats := f.cats
		f.mu.Unlock()
		write(cats)
	case "/save_categories":
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.mu.Lock()
		f.cats = in
		f.mu.Unlock()
		write(map[string]any{"status": "ok", "data": in})
	case "/run_price_json":
		write(map[string]string{"message": "price scrape finished"})
	case "/metrics/category-counts":
		write(map[string]any{"counts": map[string]int{"Fruits": 3}, "ratios": map[string]float64{"Fruits": 1}})
	case "/metrics/category-pie.png":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	default:
		http.NotFound(w, r)
	}
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := Root()
	root.Writer = &buf
	root.ErrWriter = &buf
	argv := append([]string{"opsctl", "--api", url, "--ops", url}, args...)
	err := root.Run(context.Background(), argv)
	return buf.String(), err
}

func newServer(t *testing.T) (*fakeBackend, string) {
	t.Helper()
	be := &fakeBackend{cats: map[string]string{}}
	srv := httptest.NewServer(be)
	t.Cleanup(srv.Close)
	return be, srv.URL
}

func TestStatusPrintsProgress(t *testing.T) {
	t.Parallel()
	_, url := newServer(t)
	out, err := run(t, url, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "state: running") || !strings.Contains(out, "75% (3/4)") {
		t.Fatalf("output = %q", out)
	}
}

func TestRunScrapeRequiresSavedCategories(t *testing.T) {
	t.Parallel()
	be, url := newServer(t)

	_, err := run(t, url, "run", "scrape", "price")
	if err == nil || !strings.Contains(err.Error(), "save the category selection first") {
		t.Fatalf("err = %v", err)
	}
	if be.hit("/run_price_json") {
		t.Fatal("denied task reached the backend")
	}

	if _, err := run(t, url, "categories", "save", "Fruits", "Nope"); err == nil || !strings.Contains(err.Error(), "known: ") {
		t.Fatalf("unknown category err = %v", err)
	}
	out, err := run(t, url, "categories", "save", "Fruits")
	if err != nil || !strings.Contains(out, "[x] Fruits") {
		t.Fatalf("save = %q, %v", out, err)
	}

	out, err = run(t, url, "run", "scrape", "price")
	if err != nil || !strings.Contains(out, "price scrape finished") {
		t.Fatalf("run = %q, %v", out, err)
	}
}

func TestMetricsWritesChart(t *testing.T) {
	t.Parallel()
	_, url := newServer(t)
	png := filepath.Join(t.TempDir(), "out", "pie.png")

	out, err := run(t, url, "metrics", "--filter", "D", "--png", png)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if !strings.Contains(out, "categories (embedded), total 3") {
		t.Fatalf("output = %q", out)
	}
	b, err := os.ReadFile(png)
	if err != nil || string(b) != "\x89PNG" {
		t.Fatalf("chart = %q, %v", b, err)
	}
}

func TestBackendMustBeConfigured(t *testing.T) {
	t.Parallel()
	root := Root()
	var buf bytes.Buffer
	root.Writer = &buf
	root.ErrWriter = &buf
	err := root.Run(context.Background(), []string{"opsctl", "status"})
	if err == nil || !strings.Contains(err.Error(), "backend not configured") {
		t.Fatalf("err = %v", err)
	}
}

func TestAppended(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prev, cur, want []string
	}{
		{nil, []string{"a"}, []string{"a"}},
		{[]string{"a", "b"}, []string{"a", "b", "c"}, []string{"c"}},
		{[]string{"a", "b", "c"}, []string{"c", "d"}, []string{"d"}},
		{[]string{"x"}, []string{"y"}, []string{"y"}},
	}
	for _, tt := range tests {
		if got := appended(tt.prev, tt.cur); strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Fatalf("appended(%v, %v) = %v", tt.prev, tt.cur, got)
		}
	}
}
