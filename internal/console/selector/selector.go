// Package selector lets an operator pick exactly one manual task out of a
// fixed family and run it behind the precondition gate.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/gate"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

var (
	ErrRunning     = errors.New("a task is already running")
	ErrUnknownTask = errors.New("unknown task")
	ErrNoSelection = errors.New("no task selected")
)

// DeniedError carries the gate's reason for refusing a run.
type DeniedError struct {
	Family gate.Family
	Reason string
}

func (e *DeniedError) Error() string { return string(e.Family) + ": " + e.Reason }

// Runner triggers one manual task endpoint.
type Runner interface {
	RunTask(ctx context.Context, path string) (backend.MessageResponse, error)
}

// Checker is the gate.
type Checker interface {
	Check(f gate.Family) gate.Decision
}

type Task struct {
	Key   string
	Label string
	Path  string
}

// ScrapeTasks and UploadTasks are the fixed task families.
func ScrapeTasks() []Task {
	return []Task{
		{Key: "all", Label: "scrape all product info", Path: backend.PathRunJSON},
		{Key: "price", Label: "scrape ids and prices", Path: backend.PathRunPriceJSON},
		{Key: "nonprice", Label: "scrape ids and details", Path: backend.PathRunNonPriceJSON},
		{Key: "image", Label: "scrape product images", Path: backend.PathRunImage},
	}
}

func UploadTasks() []Task {
	return []Task{
		{Key: "all", Label: "upload all product info", Path: backend.PathRunFirebaseAll},
		{Key: "price", Label: "upload ids and prices", Path: backend.PathRunFirebasePx},
		{Key: "other", Label: "upload ids and details", Path: backend.PathRunFirebaseEtc},
	}
}

func TasksFor(f gate.Family) []Task {
	if f == gate.FamilyUpload {
		return UploadTasks()
	}
	return ScrapeTasks()
}

type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseSelected Phase = "selected"
	PhaseRunning  Phase = "running"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// State is a snapshot. Done and failed keep Key selected so the task can
// be re-run or replaced.
type State struct {
	Family  gate.Family
	Phase   Phase
	Key     string
	Message string
	Err     error
	At      time.Time
}

type Selector struct {
	family gate.Family
	tasks  []Task
	run    Runner
	gate   Checker
	bus    eventbus.Bus
	log    logx.Logger

	mu    sync.Mutex
	state State
}

func New(family gate.Family, run Runner, g Checker, bus eventbus.Bus, log logx.Logger) *Selector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Selector{
		family: family,
		tasks:  TasksFor(family),
		run:    run,
		gate:   g,
		bus:    bus,
		log:    log.With(logx.String("family", string(family))),
		state:  State{Family: family, Phase: PhaseNone},
	}
}

func (s *Selector) Family() gate.Family { return s.family }

func (s *Selector) Tasks() []Task { return append([]Task(nil), s.tasks...) }

func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Selector) lookup(key string) (Task, bool) {
	for _, t := range s.tasks {
		if t.Key == key {
			return t, true
		}
	}
	return Task{}, false
}

// Select replaces the current selection. It is rejected while a task runs.
func (s *Selector) Select(key string) (State, error) {
	if _, ok := s.lookup(key); !ok {
		return s.State(), fmt.Errorf("%w %q", ErrUnknownTask, key)
	}
	return s.transition(func(st *State) error {
		if st.Phase == PhaseRunning {
			return ErrRunning
		}
		*st = State{Family: s.family, Phase: PhaseSelected, Key: key}
		return nil
	})
}

func (s *Selector) Clear() (State, error) {
	return s.transition(func(st *State) error {
		if st.Phase == PhaseRunning {
			return ErrRunning
		}
		*st = State{Family: s.family, Phase: PhaseNone}
		return nil
	})
}

// Run invokes the selected task. A gate denial returns *DeniedError and
// leaves the selection untouched without calling the backend.
func (s *Selector) Run(ctx context.Context) (State, error) {
	var task Task
	st, err := s.transition(func(st *State) error {
		switch {
		case st.Phase == PhaseRunning:
			return ErrRunning
		case st.Key == "":
			return ErrNoSelection
		}
		if d := s.gate.Check(s.family); !d.Allowed {
			return &DeniedError{Family: s.family, Reason: d.Reason}
		}
		task, _ = s.lookup(st.Key)
		*st = State{Family: s.family, Phase: PhaseRunning, Key: st.Key, At: time.Now()}
		return nil
	})
	if err != nil {
		return st, err
	}

	s.log.Info("task started", logx.String("task", task.Key), logx.String("path", task.Path))
	resp, rerr := s.run.RunTask(ctx, task.Path)

	st, _ = s.transition(func(st *State) error {
		*st = State{Family: s.family, Phase: PhaseDone, Key: task.Key, Message: resp.Message, At: time.Now()}
		if rerr != nil {
			st.Phase = PhaseFailed
			st.Err = rerr
		}
		return nil
	})
	eventbus.Emit(s.bus, eventbus.TaskRun, st)
	if rerr != nil {
		s.log.Warn("task failed", logx.String("task", task.Key), logx.Err(rerr))
		return st, fmt.Errorf("%s: %w", task.Label, rerr)
	}
	s.log.Info("task finished", logx.String("task", task.Key))
	return st, nil
}

func (s *Selector) transition(fn func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state
	if err := fn(&next); err != nil {
		return s.state, err
	}
	s.state = next
	return next, nil
}
