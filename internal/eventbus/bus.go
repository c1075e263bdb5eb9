package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by console components.
const (
	JobStatus         = "job.status"         // Data: job.JobStatus (authoritative or predicted)
	JobAction         = "job.action"         // Data: job.Action
	LogsUpdated       = "logs.updated"       // Data: logstream.Update
	GateChanged       = "gate.changed"       // Data: gate.State
	ScheduleUpdated   = "schedule.updated"   // Data: schedule.Config
	SchedulerSwitched = "scheduler.switched" // Data: *bool (nil = unknown)
	TaskRun           = "task.run"           // Data: selector.State
	WebhookReceived   = "webhook.received"   // Data: webhook.Hit
)

// Event is an in-memory signal between components of one session.
//
// Publish never blocks; a subscriber that falls behind loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

// Emit publishes an event of type typ stamped with the current time.
// A nil bus is ignored.
func Emit(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

type sub struct {
	ch    chan Event
	types map[string]struct{} // empty = all
}

func (s *sub) wants(typ string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// A concurrent unsubscribe may close ch between snapshot and send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

// Subscribe registers a buffered subscriber. With types given, only those
// event types are delivered.
func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
