package job

import (
	"context"
	"sync"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	"opsconsole/internal/timer"
	logx "opsconsole/pkg/logx"
)

// DefaultPollInterval matches the backend's progress granularity.
const DefaultPollInterval = 3 * time.Second

// StatusSource fetches the authoritative job status.
type StatusSource interface {
	Status(ctx context.Context) (backend.Status, error)
}

type PollerConfig struct {
	Interval time.Duration
	Bus      eventbus.Bus
	Logger   logx.Logger
	Now      func() time.Time
}

// Poller owns the cached JobStatus. Only the poller (and, through an
// unexported hook, the reconciler in this package) mutates it.
//
// Each fetch takes a request sequence number; a response older than the
// last applied one is dropped, so out-of-order replies never overwrite
// fresher state.
type Poller struct {
	src   StatusSource
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	base  context.Context
	timer *timer.Ticker

	mu       sync.Mutex
	interval time.Duration
	status   JobStatus
	issued   uint64
	applied  uint64
	hooks    []func(JobStatus)
}

// NewPoller creates a stopped poller. ctx bounds all timer-driven fetches.
func NewPoller(ctx context.Context, src StatusSource, cfg PollerConfig) *Poller {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	p := &Poller{
		src:      src,
		bus:      cfg.Bus,
		log:      cfg.Logger,
		now:      cfg.Now,
		base:     ctx,
		interval: cfg.Interval,
		status:   JobStatus{State: StateIdle},
	}
	p.timer = timer.New("job.poll", p.timerTick, cfg.Logger)
	return p
}

// Start begins polling with one immediate tick. It is a no-op while polling.
func (p *Poller) Start() bool { return p.start(true) }

func (p *Poller) start(immediate bool) bool {
	p.mu.Lock()
	every := p.interval
	p.mu.Unlock()
	ok := p.timer.Start(p.base, every, immediate)
	if ok {
		p.log.Debug("polling started", logx.Duration("interval", every))
	}
	return ok
}

// Stop cancels polling. Responses of ticks already in flight are discarded.
func (p *Poller) Stop() bool {
	ok := p.timer.Stop()
	if ok {
		p.log.Debug("polling stopped")
	}
	return ok
}

func (p *Poller) Polling() bool { return p.timer.Running() }

// SetInterval changes the cadence; a running poller restarts its timer.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	if p.timer.Running() {
		p.timer.Reset(p.base, d)
	}
}

// Status returns a copy of the cached status.
func (p *Poller) Status() JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.clone()
}

// Tick fetches the status once and applies it unless a fresher result was
// applied meanwhile. A fetch failure keeps the cached status and leaves the
// polling state alone. A terminal state stops polling.
func (p *Poller) Tick(ctx context.Context) (JobStatus, error) {
	return p.tick(ctx, func() bool { return true })
}

func (p *Poller) timerTick(ctx context.Context, gen uint64) {
	_, _ = p.tick(ctx, func() bool { return p.timer.Live(gen) })
}

func (p *Poller) tick(ctx context.Context, live func() bool) (JobStatus, error) {
	seq := p.issue()
	w, err := p.src.Status(ctx)
	if err != nil {
		p.log.Warn("status fetch failed; keeping last status", logx.Err(err))
		return p.Status(), err
	}
	if !live() {
		p.log.Debug("status response after poll stop; discarded", logx.Uint64("seq", seq))
		return p.Status(), nil
	}
	st := FromWire(w, p.now())
	if !p.apply(seq, st) {
		p.log.Debug("stale status response discarded", logx.Uint64("seq", seq))
		return p.Status(), nil
	}
	if st.Terminal() {
		p.Stop()
	}
	return st.clone(), nil
}

// Sync performs one tick and starts polling if the job is running.
func (p *Poller) Sync(ctx context.Context) (JobStatus, error) {
	st, err := p.Tick(ctx)
	if err != nil {
		return st, err
	}
	if st.Running && !st.Terminal() {
		p.start(false)
	}
	return st, nil
}

func (p *Poller) issue() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued++
	return p.issued
}

func (p *Poller) apply(seq uint64, st JobStatus) bool {
	p.mu.Lock()
	if seq <= p.applied {
		p.mu.Unlock()
		return false
	}
	p.applied = seq
	p.status = st
	hooks := append([]func(JobStatus){}, p.hooks...)
	p.mu.Unlock()

	for _, h := range hooks {
		h(st.clone())
	}
	eventbus.Emit(p.bus, eventbus.JobStatus, st.clone())
	return true
}

// predict installs an optimistic status. Responses to requests issued
// before the prediction are treated as stale.
func (p *Poller) predict(mut func(JobStatus) JobStatus) JobStatus {
	p.mu.Lock()
	p.issued++
	p.applied = p.issued
	st := mut(p.status.clone())
	st.Predicted = true
	p.status = st
	p.mu.Unlock()

	eventbus.Emit(p.bus, eventbus.JobStatus, st.clone())
	return st.clone()
}

func (p *Poller) onAuthoritative(fn func(JobStatus)) {
	p.mu.Lock()
	p.hooks = append(p.hooks, fn)
	p.mu.Unlock()
}
