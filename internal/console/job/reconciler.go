package job

import (
	"context"
	"errors"
	"sync"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

var (
	ErrActionInFlight = errors.New("another start/stop action is in progress")
	ErrAlreadyRunning = errors.New("job is already running")
	ErrNotRunning     = errors.New("job is not running")
)

// Controller issues start/stop requests for the job.
type Controller interface {
	StartIndex(ctx context.Context) (backend.MessageResponse, error)
	StopIndex(ctx context.Context) (backend.MessageResponse, error)
}

type Intent string

const (
	IntentStart Intent = "start"
	IntentStop  Intent = "stop"
)

// Phase is the per-action state machine:
//
//	predicted -> confirmed
//	predicted -> failed -> reconciled
type Phase string

const (
	PhaseNone       Phase = ""
	PhasePredicted  Phase = "predicted"
	PhaseConfirmed  Phase = "confirmed"
	PhaseFailed     Phase = "failed"
	PhaseReconciled Phase = "reconciled"
)

type Action struct {
	ID        uint64
	Intent    Intent
	Phase     Phase
	Predicted JobStatus
	Message   string
	Err       error
	StartedAt time.Time
	UpdatedAt time.Time
}

// Reconciler applies optimistic start/stop predictions through the poller
// and reconciles them with the next authoritative status.
type Reconciler struct {
	ctl    Controller
	poller *Poller
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	seq      uint64
	last     Action
	inFlight bool
}

func NewReconciler(ctl Controller, poller *Poller, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reconciler{ctl: ctl, poller: poller, bus: bus, log: log}
	poller.onAuthoritative(r.authoritative)
	return r
}

// Last returns the most recent action.
func (r *Reconciler) Last() Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reconciler) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// StartJob predicts a running job, asks the backend to start it, then
// confirms with one authoritative tick and keeps polling until terminal.
func (r *Reconciler) StartJob(ctx context.Context) (Action, error) {
	return r.run(ctx, IntentStart)
}

// StopJob predicts a stopped job, asks the backend to stop it, ends the poll
// loop and confirms with one authoritative tick.
func (r *Reconciler) StopJob(ctx context.Context) (Action, error) {
	return r.run(ctx, IntentStop)
}

func (r *Reconciler) run(ctx context.Context, intent Intent) (Action, error) {
	cur := r.poller.Status()
	trusted := true
	if cur.Predicted && r.Last().Phase == PhaseFailed {
		// The status is our own failed prediction; settle it before the
		// running checks.
		st, err := r.poller.Tick(ctx)
		if err != nil {
			trusted = false
		} else {
			cur = st
		}
	}

	r.mu.Lock()
	if r.inFlight {
		last := r.last
		r.mu.Unlock()
		return last, ErrActionInFlight
	}
	switch {
	case !trusted:
	case intent == IntentStart && cur.Running:
		r.mu.Unlock()
		return r.Last(), ErrAlreadyRunning
	case intent == IntentStop && !cur.Running:
		r.mu.Unlock()
		return r.Last(), ErrNotRunning
	}
	r.inFlight = true
	r.seq++
	id := r.seq
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	pred := r.poller.predict(func(s JobStatus) JobStatus {
		if intent == IntentStart {
			s.State, s.Running = StateRunning, true
		} else {
			s.State, s.Running = StateStopped, false
		}
		return s
	})
	now := time.Now()
	r.set(Action{ID: id, Intent: intent, Phase: PhasePredicted, Predicted: pred, StartedAt: now, UpdatedAt: now})

	var (
		resp backend.MessageResponse
		err  error
	)
	if intent == IntentStart {
		resp, err = r.ctl.StartIndex(ctx)
	} else {
		resp, err = r.ctl.StopIndex(ctx)
	}
	if err != nil {
		r.log.Warn("job action failed", logx.String("intent", string(intent)), logx.Err(err))
		return r.update(id, func(a *Action) {
			a.Phase = PhaseFailed
			a.Err = err
		}), err
	}

	act := r.update(id, func(a *Action) {
		a.Phase = PhaseConfirmed
		a.Message = resp.Message
	})

	if intent == IntentStop {
		r.poller.Stop()
	}
	st, terr := r.poller.Tick(ctx)
	if terr != nil {
		r.log.Warn("confirming status fetch failed", logx.String("intent", string(intent)), logx.Err(terr))
	}
	if intent == IntentStart && !st.Terminal() {
		r.poller.start(terr != nil)
	}
	r.log.Info("job action confirmed", logx.String("intent", string(intent)), logx.String("state", string(st.State)))
	return act, nil
}

func (r *Reconciler) set(a Action) {
	r.mu.Lock()
	r.last = a
	r.mu.Unlock()
	eventbus.Emit(r.bus, eventbus.JobAction, a)
}

func (r *Reconciler) update(id uint64, fn func(*Action)) Action {
	r.mu.Lock()
	if r.last.ID != id {
		a := r.last
		r.mu.Unlock()
		return a
	}
	fn(&r.last)
	r.last.UpdatedAt = time.Now()
	a := r.last
	r.mu.Unlock()
	eventbus.Emit(r.bus, eventbus.JobAction, a)
	return a
}

// authoritative is called by the poller for every applied server status.
func (r *Reconciler) authoritative(JobStatus) {
	r.mu.Lock()
	if r.last.Phase != PhaseFailed {
		r.mu.Unlock()
		return
	}
	id := r.last.ID
	r.mu.Unlock()
	r.update(id, func(a *Action) { a.Phase = PhaseReconciled })
}
