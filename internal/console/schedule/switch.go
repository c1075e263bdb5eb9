package schedule

import (
	"context"
	"fmt"
	"sync"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

// Switch tracks the scheduler's global on/off state.
type Switch struct {
	be  Backend
	bus eventbus.Bus
	log logx.Logger

	mu      sync.Mutex
	running *bool
}

func NewSwitch(be Backend, bus eventbus.Bus, log logx.Logger) *Switch {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Switch{be: be, bus: bus, log: log}
}

// Running returns the last known state, or nil while unknown.
func (s *Switch) Running() *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return nil
	}
	v := *s.running
	return &v
}

// RunningFrom derives the on/off state: running if reported, else the
// negation of paused, else unknown.
func RunningFrom(st backend.SchedulerStatus) *bool {
	switch {
	case st.Running != nil:
		v := *st.Running
		return &v
	case st.Paused != nil:
		v := !*st.Paused
		return &v
	default:
		return nil
	}
}

// Refresh reads the status. A failure leaves the state as it was.
func (s *Switch) Refresh(ctx context.Context) (*bool, error) {
	st, err := s.be.SchedulerStatus(ctx)
	if err != nil {
		return s.Running(), fmt.Errorf("scheduler status: %w", err)
	}
	s.set(RunningFrom(st))
	return s.Running(), nil
}

func (s *Switch) On(ctx context.Context) error  { return s.toggle(ctx, true) }
func (s *Switch) Off(ctx context.Context) error { return s.toggle(ctx, false) }

func (s *Switch) toggle(ctx context.Context, on bool) error {
	var (
		st  backend.SchedulerStatus
		err error
	)
	if on {
		st, err = s.be.SchedulerOn(ctx)
	} else {
		st, err = s.be.SchedulerOff(ctx)
	}
	if err != nil {
		return fmt.Errorf("scheduler %s: %w", onOff(on), err)
	}
	v := RunningFrom(st)
	if v == nil {
		v = &on
	}
	s.set(v)
	s.log.Info("scheduler switched", logx.String("to", onOff(*v)))
	return nil
}

func (s *Switch) set(v *bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
	eventbus.Emit(s.bus, eventbus.SchedulerSwitched, v)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
