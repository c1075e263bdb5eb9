package selector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/gate"
	logx "opsconsole/pkg/logx"
)

type fakeRunner struct {
	mu    sync.Mutex
	paths []string
	err   error
	block chan struct{}
}

func (f *fakeRunner) RunTask(ctx context.Context, path string) (backend.MessageResponse, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return backend.MessageResponse{Message: "ok"}, f.err
}

func (f *fakeRunner) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type staticGate gate.Decision

func (g staticGate) Check(gate.Family) gate.Decision { return gate.Decision(g) }

var allow = staticGate{Allowed: true}

func TestSelectReplacesSelection(t *testing.T) {
	t.Parallel()
	s := New(gate.FamilyScrape, &fakeRunner{}, allow, nil, logx.Nop())

	if _, err := s.Select("all"); err != nil {
		t.Fatalf("Select(all): %v", err)
	}
	st, err := s.Select("price")
	if err != nil {
		t.Fatalf("Select(price): %v", err)
	}
	if st.Phase != PhaseSelected || st.Key != "price" {
		t.Fatalf("state = %+v", st)
	}
	if _, err := s.Select("other"); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("scrape family accepted upload key: %v", err)
	}
	if st, _ := s.Clear(); st.Phase != PhaseNone || st.Key != "" {
		t.Fatalf("Clear state = %+v", st)
	}
}

func TestRunRequiresSelection(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s := New(gate.FamilyUpload, r, allow, nil, logx.Nop())
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	if len(r.Paths()) != 0 {
		t.Fatal("backend called without a selection")
	}
}

func TestDeniedRunKeepsSelectionAndSkipsBackend(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{}
	s := New(gate.FamilyScrape, r, staticGate{Reason: gate.ReasonNotSaved}, nil, logx.Nop())
	if _, err := s.Select("image"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	st, err := s.Run(context.Background())
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Reason != gate.ReasonNotSaved {
		t.Fatalf("err = %v, want DeniedError", err)
	}
	if st.Phase != PhaseSelected || st.Key != "image" {
		t.Fatalf("state after denial = %+v", st)
	}
	if len(r.Paths()) != 0 {
		t.Fatal("denied run reached the backend")
	}
}

func TestRunKeepsSelectionAfterCompletion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		err   error
		phase Phase
	}{
		{"success", nil, PhaseDone},
		{"failure", errors.New("500"), PhaseFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := &fakeRunner{err: tt.err}
			s := New(gate.FamilyUpload, r, allow, nil, logx.Nop())
			if _, err := s.Select("price"); err != nil {
				t.Fatalf("Select: %v", err)
			}
			st, err := s.Run(context.Background())
			if (err != nil) != (tt.err != nil) {
				t.Fatalf("Run err = %v", err)
			}
			if st.Phase != tt.phase || st.Key != "price" {
				t.Fatalf("state = %+v", st)
			}
			if p := r.Paths(); len(p) != 1 || p[0] != backend.PathRunFirebasePx {
				t.Fatalf("paths = %v", p)
			}
			if _, err := s.Run(context.Background()); (err != nil) != (tt.err != nil) {
				t.Fatalf("re-run err = %v", err)
			}
			if len(r.Paths()) != 2 {
				t.Fatal("selection should allow a repeat run")
			}
		})
	}
}

func TestSelectAndRunRejectedWhileRunning(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{block: make(chan struct{})}
	s := New(gate.FamilyScrape, r, allow, nil, logx.Nop())
	if _, err := s.Select("all"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	for s.State().Phase != PhaseRunning {
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Select("price"); !errors.Is(err, ErrRunning) {
		t.Fatalf("Select while running err = %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("Run while running err = %v", err)
	}
	if _, err := s.Clear(); !errors.Is(err, ErrRunning) {
		t.Fatalf("Clear while running err = %v", err)
	}

	close(r.block)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := s.State(); st.Phase != PhaseDone || st.Key != "all" {
		t.Fatalf("state = %+v", st)
	}
}
