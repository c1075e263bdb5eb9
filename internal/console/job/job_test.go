package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	next  func(call int) (backend.Status, error)
}

func (f *fakeSource) Status(ctx context.Context) (backend.Status, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fn := f.next
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeController struct {
	start func() (backend.MessageResponse, error)
	stop  func() (backend.MessageResponse, error)
}

func (f *fakeController) StartIndex(ctx context.Context) (backend.MessageResponse, error) {
	return f.start()
}

func (f *fakeController) StopIndex(ctx context.Context) (backend.MessageResponse, error) {
	return f.stop()
}

func boolPtr(b bool) *bool { return &b }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPercent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		progress, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{10, 10, 100},
		{12, 10, 100},
		{-1, 10, 0},
	}
	for _, tt := range tests {
		got := JobStatus{Progress: tt.progress, Total: tt.total}.Percent()
		if got != tt.want {
			t.Fatalf("Percent(%d/%d) = %d, want %d", tt.progress, tt.total, got, tt.want)
		}
	}
}

func TestFromWireBoundsItems(t *testing.T) {
	t.Parallel()
	w := backend.Status{Status: "RUNNING", Progress: 150, Total: 200}
	for i := 0; i < 150; i++ {
		w.Items = append(w.Items, backend.Item{ID: backend.Text(string(rune('a' + i%26))), Status: "success"})
	}
	w.Items[149].Status = "failed: timeout"

	st := FromWire(w, time.Now())
	if st.State != StateRunning || !st.Running {
		t.Fatalf("state = %s running = %v", st.State, st.Running)
	}
	if len(st.Items) != MaxRecentItems {
		t.Fatalf("items = %d, want %d", len(st.Items), MaxRecentItems)
	}
	if last := st.Items[len(st.Items)-1]; last.Outcome != OutcomeFailed {
		t.Fatalf("last outcome = %s", last.Outcome)
	}
	if got := len(st.Recent(5)); got != 5 {
		t.Fatalf("Recent(5) = %d items", got)
	}
	if got := len(st.Recent(500)); got != MaxRecentItems {
		t.Fatalf("Recent(500) = %d items", got)
	}
}

func TestTickFailureKeepsCachedStatus(t *testing.T) {
	t.Parallel()
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		if n == 1 {
			return backend.Status{Status: "running", Progress: 4, Total: 8, Running: boolPtr(true)}, nil
		}
		return backend.Status{}, errors.New("connection refused")
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	st, err := p.Tick(context.Background())
	if err == nil {
		t.Fatal("expected error from failing tick")
	}
	if st.Progress != 4 || st.State != StateRunning {
		t.Fatalf("cached status lost: %+v", st)
	}
}

func TestPollingStopsOnTerminalState(t *testing.T) {
	t.Parallel()
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		if n < 3 {
			return backend.Status{Status: "running", Running: boolPtr(true)}, nil
		}
		return backend.Status{Status: "completed", Running: boolPtr(false)}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: 10 * time.Millisecond})

	if !p.Start() {
		t.Fatal("Start returned false")
	}
	if p.Start() {
		t.Fatal("second Start should be a no-op")
	}
	waitFor(t, func() bool { return !p.Polling() })
	if p.Status().State != StateCompleted {
		t.Fatalf("state = %s", p.Status().State)
	}

	time.Sleep(20 * time.Millisecond)
	settled := src.Calls()
	time.Sleep(60 * time.Millisecond)
	if got := src.Calls(); got != settled {
		t.Fatalf("ticks continued after terminal state: %d -> %d", settled, got)
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		if n == 1 {
			<-release
			return backend.Status{Status: "running", Progress: 1, Total: 10}, nil
		}
		return backend.Status{Status: "running", Progress: 5, Total: 10}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})

	done := make(chan struct{})
	go func() {
		_, _ = p.Tick(context.Background())
		close(done)
	}()
	waitFor(t, func() bool { return src.Calls() == 1 })

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	close(release)
	<-done

	if got := p.Status().Progress; got != 5 {
		t.Fatalf("progress = %d, want 5 (older response must not win)", got)
	}
}

func TestSyncStartsPollingWhenRunning(t *testing.T) {
	t.Parallel()
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		return backend.Status{Status: "running", Running: boolPtr(true)}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})
	if _, err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !p.Polling() {
		t.Fatal("Sync should start polling for a running job")
	}
	p.Stop()
}

func TestStartJobIsOptimisticThenAuthoritative(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.JobStatus)
	defer unsub()

	gate := make(chan struct{})
	ctl := &fakeController{start: func() (backend.MessageResponse, error) {
		<-gate
		return backend.MessageResponse{Message: "started"}, nil
	}}
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		return backend.Status{Status: "running", Progress: 0, Total: 10, Running: boolPtr(true)}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour, Bus: bus})
	r := NewReconciler(ctl, p, bus, logx.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := r.StartJob(context.Background())
		done <- err
	}()

	waitFor(t, func() bool { return r.Last().Phase == PhasePredicted })
	st := p.Status()
	if !st.Predicted || st.State != StateRunning || !st.Running {
		t.Fatalf("prediction not visible before the call resolved: %+v", st)
	}
	if src.Calls() != 0 {
		t.Fatalf("status fetched before the start call resolved")
	}
	if _, err := r.StopJob(context.Background()); !errors.Is(err, ErrActionInFlight) {
		t.Fatalf("concurrent action err = %v, want ErrActionInFlight", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	st = p.Status()
	if st.Predicted || st.Total != 10 || st.State != StateRunning {
		t.Fatalf("status not replaced by server truth: %+v", st)
	}
	if got := r.Last(); got.Phase != PhaseConfirmed || got.Message != "started" {
		t.Fatalf("last action = %+v", got)
	}
	if !p.Polling() {
		t.Fatal("start should leave the poller running")
	}
	p.Stop()

	first := <-events
	if js, ok := first.Data.(JobStatus); !ok || !js.Predicted {
		t.Fatalf("first published status should be the prediction, got %+v", first.Data)
	}
}

func TestFailedActionIsReconciledByNextTick(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{start: func() (backend.MessageResponse, error) {
		return backend.MessageResponse{}, errors.New("503")
	}}
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		return backend.Status{Status: "idle"}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})
	r := NewReconciler(ctl, p, nil, logx.Nop())

	act, err := r.StartJob(context.Background())
	if err == nil {
		t.Fatal("expected start error")
	}
	if act.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", act.Phase)
	}
	if st := p.Status(); !st.Predicted || st.State != StateRunning {
		t.Fatalf("prediction should stay until the next refresh: %+v", st)
	}
	if p.Polling() {
		t.Fatal("failed start must not start polling")
	}

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if st := p.Status(); st.Predicted || st.State != StateIdle {
		t.Fatalf("status = %+v, want authoritative idle", st)
	}
	if got := r.Last().Phase; got != PhaseReconciled {
		t.Fatalf("phase = %s, want reconciled", got)
	}
}

func TestRetryAfterFailedStart(t *testing.T) {
	t.Parallel()
	var (
		mu      sync.Mutex
		starts  int
		started bool
	)
	ctl := &fakeController{start: func() (backend.MessageResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		starts++
		if starts == 1 {
			return backend.MessageResponse{}, errors.New("503 Service Unavailable")
		}
		started = true
		return backend.MessageResponse{Message: "started"}, nil
	}}
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		mu.Lock()
		defer mu.Unlock()
		if started {
			return backend.Status{Status: "running", Running: boolPtr(true)}, nil
		}
		return backend.Status{Status: "idle"}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})
	defer p.Stop()
	r := NewReconciler(ctl, p, nil, logx.Nop())

	if _, err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, err := r.StartJob(context.Background()); err == nil {
		t.Fatal("expected first start to fail")
	}
	if st := p.Status(); !st.Predicted || !st.Running || p.Polling() {
		t.Fatalf("after failed start: %+v polling=%v", st, p.Polling())
	}

	act, err := r.StartJob(context.Background())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if act.Phase != PhaseConfirmed || act.Message != "started" {
		t.Fatalf("retry action = %+v", act)
	}
	mu.Lock()
	n := starts
	mu.Unlock()
	if n != 2 {
		t.Fatalf("StartIndex calls = %d, want 2", n)
	}
	if st := p.Status(); st.Predicted || st.State != StateRunning {
		t.Fatalf("status = %+v, want authoritative running", st)
	}
}

func TestStopAfterFailedStartSeesIdleJob(t *testing.T) {
	t.Parallel()
	stops := 0
	ctl := &fakeController{
		start: func() (backend.MessageResponse, error) { return backend.MessageResponse{}, errors.New("503") },
		stop: func() (backend.MessageResponse, error) {
			stops++
			return backend.MessageResponse{}, nil
		},
	}
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		return backend.Status{Status: "idle"}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})
	r := NewReconciler(ctl, p, nil, logx.Nop())

	if _, err := r.StartJob(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if _, err := r.StopJob(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop err = %v, want ErrNotRunning", err)
	}
	if stops != 0 {
		t.Fatal("stop reached the backend for an idle job")
	}
	if st := p.Status(); st.Predicted || st.State != StateIdle {
		t.Fatalf("status = %+v, want authoritative idle", st)
	}
}

func TestStopJobEndsPolling(t *testing.T) {
	t.Parallel()
	stopped := false
	var mu sync.Mutex
	ctl := &fakeController{stop: func() (backend.MessageResponse, error) {
		mu.Lock()
		stopped = true
		mu.Unlock()
		return backend.MessageResponse{Message: "stopping"}, nil
	}}
	src := &fakeSource{next: func(n int) (backend.Status, error) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return backend.Status{Status: "stopped", Running: boolPtr(false)}, nil
		}
		return backend.Status{Status: "running", Running: boolPtr(true)}, nil
	}}
	p := NewPoller(context.Background(), src, PollerConfig{Interval: time.Hour})
	r := NewReconciler(ctl, p, nil, logx.Nop())

	if _, err := r.StopJob(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("stop on unknown/idle job err = %v, want ErrNotRunning", err)
	}
	if _, err := p.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !p.Polling() {
		t.Fatal("expected polling after sync of running job")
	}
	if _, err := r.StartJob(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("start on running job err = %v, want ErrAlreadyRunning", err)
	}

	act, err := r.StopJob(context.Background())
	if err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	if act.Phase != PhaseConfirmed {
		t.Fatalf("phase = %s", act.Phase)
	}
	if p.Polling() {
		t.Fatal("stop should end polling")
	}
	if st := p.Status(); st.State != StateStopped || st.Predicted {
		t.Fatalf("status = %+v", st)
	}
}
