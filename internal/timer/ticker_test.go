package timer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	logx "opsconsole/pkg/logx"
)

func TestStartFiresImmediatelyAndIsIdempotent(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	tk := New("test", func(ctx context.Context, gen uint64) { n.Add(1) }, logx.Nop())

	if !tk.Start(context.Background(), time.Hour, true) {
		t.Fatal("first Start returned false")
	}
	if tk.Start(context.Background(), time.Hour, true) {
		t.Fatal("second Start should be a no-op")
	}
	deadline := time.Now().Add(time.Second)
	for n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := n.Load(); got != 1 {
		t.Fatalf("ticks = %d, want 1 (immediate only)", got)
	}
	if tk.Interval() != time.Hour || !tk.Running() {
		t.Fatalf("Interval = %v Running = %v", tk.Interval(), tk.Running())
	}
	tk.Stop()
}

func TestStopInvalidatesGeneration(t *testing.T) {
	t.Parallel()
	gens := make(chan uint64, 1)
	tk := New("test", func(ctx context.Context, gen uint64) {
		select {
		case gens <- gen:
		default:
		}
	}, logx.Nop())

	tk.Start(context.Background(), time.Hour, true)
	gen := <-gens
	if !tk.Live(gen) {
		t.Fatal("generation should be live while running")
	}
	if !tk.Stop() {
		t.Fatal("Stop returned false")
	}
	if tk.Live(gen) {
		t.Fatal("generation still live after Stop")
	}
	if tk.Stop() {
		t.Fatal("second Stop should return false")
	}
	if tk.Interval() != 0 {
		t.Fatalf("Interval after stop = %v", tk.Interval())
	}
}

func TestTicksRepeatUntilStopped(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	tk := New("test", func(ctx context.Context, gen uint64) { n.Add(1) }, logx.Nop())
	tk.Start(context.Background(), 10*time.Millisecond, false)
	time.Sleep(75 * time.Millisecond)
	tk.Stop()
	got := n.Load()
	if got < 2 {
		t.Fatalf("ticks = %d, want >= 2", got)
	}
	time.Sleep(40 * time.Millisecond)
	if after := n.Load(); after > got+1 {
		t.Fatalf("ticks kept firing after Stop: %d -> %d", got, after)
	}
}

func TestResetChangesCadence(t *testing.T) {
	t.Parallel()
	tk := New("test", func(ctx context.Context, gen uint64) {}, logx.Nop())
	tk.Reset(context.Background(), 3*time.Second)
	if tk.Interval() != 3*time.Second {
		t.Fatalf("Interval = %v", tk.Interval())
	}
	tk.Reset(context.Background(), 5*time.Second)
	if tk.Interval() != 5*time.Second {
		t.Fatalf("Interval = %v", tk.Interval())
	}
	tk.Reset(context.Background(), 0)
	if tk.Running() {
		t.Fatal("Reset(0) should stop the ticker")
	}
}

func TestNoCallbackAfterStop(t *testing.T) {
	t.Parallel()
	var n atomic.Int32
	tk := New("test", func(ctx context.Context, gen uint64) { n.Add(1) }, logx.Nop())

	tk.Start(context.Background(), time.Millisecond, false)
	deadline := time.Now().Add(time.Second)
	for n.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	tk.Stop()
	time.Sleep(5 * time.Millisecond)
	settled := n.Load()
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != settled {
		t.Fatalf("callbacks after Stop = %d", got-settled)
	}

	// A tick dispatched under the old generation is dropped.
	tk.Start(context.Background(), time.Hour, false)
	tk.mu.Lock()
	stale := tk.gen - 1
	tk.mu.Unlock()
	before := n.Load()
	tk.fire(context.Background(), stale)
	if n.Load() != before {
		t.Fatal("stale generation invoked the callback")
	}
	tk.Stop()
}
