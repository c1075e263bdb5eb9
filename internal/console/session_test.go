package console

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/job"
)

type fakeServer struct {
	mu     sync.Mutex
	hits   []string
	failOn string
	status string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits = append(f.hits, r.Method+" "+r.URL.Path)
	fail := f.failOn != "" && r.URL.Path == f.failOn
	status := f.status
	f.mu.Unlock()
	if fail {
		http.Error(w, "down", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/scheduler/status":
		_, _ = w.Write([]byte(`{"running":true}`))
	case "/tasks/status":
		_, _ = w.Write([]byte(`{"cancelled":false}`))
	case "/scheduler/config":
		_, _ = w.Write([]byte(`{"status":"ok","timezone":"Asia/Seoul","scrape":{"hour":3,"minute":"*/30"}}`))
	case "/categories":
		_, _ = w.Write([]byte(`{"Fruits":"6000213114"}`))
	case "/index/status":
		_, _ = w.Write([]byte(`{"status":"` + status + `","progress":2,"total":4}`))
	case "/index/logs":
		_, _ = w.Write([]byte(`{"logs":["a","b"]}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeServer) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.hits {
		if strings.HasSuffix(h, " "+path) {
			n++
		}
	}
	return n
}

func newSession(t *testing.T, fs *fakeServer) *Session {
	t.Helper()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	be := backend.New(backend.Config{APIBase: srv.URL, OpsBase: srv.URL})
	s := New(context.Background(), "t", be, Options{PollInterval: time.Hour})
	t.Cleanup(s.Close)
	return s
}

func TestOpenLoadsEveryView(t *testing.T) {
	t.Parallel()
	fs := &fakeServer{status: "completed"}
	s := newSession(t, fs)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r := s.Scheduler.Running(); r == nil || !*r {
		t.Fatalf("scheduler running = %v", r)
	}
	if c := s.Gate.Cancelled(); c == nil || *c {
		t.Fatalf("cancelled = %v", c)
	}
	if _, ok := s.Schedule.Config(); !ok {
		t.Fatal("schedule config not loaded")
	}
	if !s.Gate.Persisted() || len(s.Gate.Selected()) != 1 {
		t.Fatalf("gate state = %+v", s.Gate.State())
	}
	if st := s.Poller.Status(); st.State != job.StateCompleted || st.Progress != 2 {
		t.Fatalf("status = %+v", st)
	}
	if s.Poller.Polling() {
		t.Fatal("poller started for a finished job")
	}
	if lines := s.Logs.Lines(); len(lines) != 2 {
		t.Fatalf("logs = %v", lines)
	}
}

func TestOpenContinuesPastFailures(t *testing.T) {
	t.Parallel()
	fs := &fakeServer{status: "idle", failOn: "/categories"}
	s := newSession(t, fs)

	err := s.Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "categories") {
		t.Fatalf("Open err = %v", err)
	}
	if s.Gate.Persisted() {
		t.Fatal("failed category load left the gate persisted")
	}
	if fs.count("/index/status") != 1 || fs.count("/index/logs") != 1 {
		t.Fatalf("later steps skipped: %v", fs.hits)
	}
}

func TestSetLogAutoRefreshPersists(t *testing.T) {
	t.Parallel()
	s := newSession(t, &fakeServer{status: "idle"})
	ctx := context.Background()

	if err := s.SetLogAutoRefresh(ctx, 7*time.Second); err == nil {
		t.Fatal("accepted an unsupported cadence")
	}
	if err := s.SetLogAutoRefresh(ctx, 5*time.Second); err != nil {
		t.Fatalf("SetLogAutoRefresh: %v", err)
	}
	if got := s.Prefs.LogsAuto(ctx); got != 5*time.Second {
		t.Fatalf("saved = %v", got)
	}
	if s.Logs.AutoRefresh() != 5*time.Second {
		t.Fatalf("follower cadence = %v", s.Logs.AutoRefresh())
	}
}

func TestPoolReusesSessionsAndTicksAll(t *testing.T) {
	t.Parallel()
	fs := &fakeServer{status: "completed"}
	srv := httptest.NewServer(fs)
	defer srv.Close()
	be := backend.New(backend.Config{APIBase: srv.URL, OpsBase: srv.URL})
	p := NewPool(context.Background(), be, Options{PollInterval: time.Hour}, nil)
	defer p.CloseAll()
	ctx := context.Background()

	st, err := p.Tick(ctx)
	if err != nil || st.State != job.StateCompleted {
		t.Fatalf("Tick with no sessions = %+v, %v", st, err)
	}

	a, _ := p.Get(ctx, "1")
	again, _ := p.Get(ctx, "1")
	if a != again {
		t.Fatal("Get opened a second session for the same key")
	}
	if _, err := p.Get(ctx, "2"); err != nil {
		t.Fatal(err)
	}
	before := fs.count("/index/status")
	if _, err := p.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := fs.count("/index/status") - before; got != 2 {
		t.Fatalf("status fetches per tick = %d", got)
	}
	if p.Status().FetchedAt.IsZero() {
		t.Fatal("pool status never recorded")
	}

	p.CloseAll()
	if _, err := p.Get(ctx, "3"); err != ErrPoolClosed {
		t.Fatalf("Get after CloseAll = %v", err)
	}
}
