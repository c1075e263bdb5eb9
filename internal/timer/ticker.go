// Package timer provides an owned, restartable interval timer.
//
// A Ticker belongs to exactly one component and replaces ad-hoc
// time.Ticker goroutines: Start/Stop are idempotent and every start or stop
// bumps a generation number. Callbacks receive the generation they were issued
// under so owners can discard results that arrive after the timer was stopped.
package timer

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	logx "opsconsole/pkg/logx"
)

// Func is invoked on every tick. gen identifies the timer run that issued it.
type Func func(ctx context.Context, gen uint64)

type Ticker struct {
	name string
	fn   Func
	log  logx.Logger

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	every   time.Duration
	gen     uint64
	running bool
}

func New(name string, fn Func, log logx.Logger) *Ticker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ticker{name: name, fn: fn, log: log}
}

// Start begins ticking every interval. With immediate set, one tick fires
// right away. Start is a no-op (returns false) if the ticker already runs
// or every <= 0.
//
// ctx bounds the whole run and is handed to callbacks; Stop does not cancel
// it, so callbacks already in flight run to completion.
func (t *Ticker) Start(ctx context.Context, every time.Duration, immediate bool) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || every <= 0 {
		return false
	}
	t.startLocked(ctx, every, immediate)
	return true
}

func (t *Ticker) startLocked(ctx context.Context, every time.Duration, immediate bool) {
	t.gen++
	gen := t.gen
	loopCtx, cancel := context.WithCancel(ctx)
	t.parent = ctx
	t.cancel = cancel
	t.every = every
	t.running = true
	go t.loop(loopCtx, ctx, gen, every, immediate)
}

// Stop cancels the timer. It returns false if the ticker was not running.
func (t *Ticker) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopLocked()
}

func (t *Ticker) stopLocked() bool {
	if !t.running {
		return false
	}
	t.gen++
	t.running = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return true
}

// Reset changes the interval of a running ticker (restarting its cadence)
// or starts it under ctx when stopped. every <= 0 stops the ticker.
func (t *Ticker) Reset(ctx context.Context, every time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if every <= 0 {
		t.stopLocked()
		return
	}
	if t.running {
		if every == t.every {
			return
		}
		parent := t.parent
		t.stopLocked()
		if ctx == nil {
			ctx = parent
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.startLocked(ctx, every, false)
}

// Interval returns the cadence of the current run, or 0 when stopped.
func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.every
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Live reports whether gen still identifies the active run.
func (t *Ticker) Live(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && t.gen == gen
}

func (t *Ticker) loop(loopCtx, cbCtx context.Context, gen uint64, every time.Duration, immediate bool) {
	if immediate {
		go t.fire(cbCtx, gen)
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-loopCtx.Done():
			return
		case <-tk.C:
			// select picks randomly when Stop and a tick race.
			if loopCtx.Err() != nil {
				return
			}
			// Ticks are not serialized with callbacks: a slow callback may
			// still be running when the next one starts.
			go t.fire(cbCtx, gen)
		}
	}
}

func (t *Ticker) fire(ctx context.Context, gen uint64) {
	if t.fn == nil || ctx.Err() != nil || !t.Live(gen) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("timer callback panicked",
				logx.String("timer", t.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	t.fn(ctx, gen)
}
