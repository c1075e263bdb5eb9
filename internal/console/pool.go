package console

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"opsconsole/internal/console/job"
	"opsconsole/internal/storage"
	logx "opsconsole/pkg/logx"
)

// PrefsFunc creates the prefs for a new session key; nil means in-memory.
type PrefsFunc func(key string) *storage.Prefs

// Pool keeps one lazily opened Session per operator key (a chat id, for
// instance). It also serves as the webhook target: a hook refreshes the job
// status of every open session.
type Pool struct {
	ctx   context.Context
	be    Backend
	opts  Options
	prefs PrefsFunc
	log   logx.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	last     job.JobStatus
	closed   bool
}

var ErrPoolClosed = errors.New("console: pool closed")

func NewPool(ctx context.Context, be Backend, opts Options, prefs PrefsFunc) *Pool {
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	return &Pool{
		ctx:      ctx,
		be:       be,
		opts:     opts,
		prefs:    prefs,
		log:      opts.Logger.With(logx.Comp("console")),
		sessions: map[string]*Session{},
	}
}

// Get returns the session for key, creating and opening it on first use.
// Open errors are logged, not returned: a partially loaded session is still
// usable and every view can be refreshed later.
func (p *Pool) Get(ctx context.Context, key string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if s, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return s, nil
	}
	opts := p.opts
	if p.prefs != nil {
		opts.Prefs = p.prefs(key)
	}
	s := New(p.ctx, key, p.be, opts)
	p.sessions[key] = s
	p.mu.Unlock()

	_ = s.Open(ctx)
	p.note(s.Poller.Status())
	return s, nil
}

// Lookup returns an already open session.
func (p *Pool) Lookup(key string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[key]
	return s, ok
}

// Each calls fn for every open session in key order.
func (p *Pool) Each(fn func(*Session)) {
	for _, s := range p.snapshot() {
		fn(s)
	}
}

func (p *Pool) snapshot() []*Session {
	p.mu.Lock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Drop closes and forgets one session.
func (p *Pool) Drop(key string) {
	p.mu.Lock()
	s, ok := p.sessions[key]
	delete(p.sessions, key)
	p.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll closes every session and refuses new ones.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	p.closed = true
	list := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		list = append(list, s)
	}
	p.sessions = map[string]*Session{}
	p.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
}

// SetPollInterval applies d to open sessions and to sessions opened later.
func (p *Pool) SetPollInterval(d time.Duration) {
	p.mu.Lock()
	p.opts.PollInterval = d
	p.mu.Unlock()
	p.Each(func(s *Session) { s.Poller.SetInterval(d) })
}

// Tick refreshes every open session's status. With no session open it
// fetches the status directly so the webhook status view stays current.
func (p *Pool) Tick(ctx context.Context) (job.JobStatus, error) {
	list := p.snapshot()
	if len(list) == 0 {
		w, err := p.be.Status(ctx)
		if err != nil {
			return p.Status(), err
		}
		st := job.FromWire(w, time.Now())
		p.note(st)
		return st, nil
	}
	var errs []error
	for _, s := range list {
		st, err := s.Poller.Tick(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p.note(st)
	}
	return p.Status(), errors.Join(errs...)
}

// Status is the most recently fetched status across sessions.
func (p *Pool) Status() job.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pool) note(st job.JobStatus) {
	if st.FetchedAt.IsZero() {
		return
	}
	p.mu.Lock()
	if !st.FetchedAt.Before(p.last.FetchedAt) {
		p.last = st
	}
	p.mu.Unlock()
}
