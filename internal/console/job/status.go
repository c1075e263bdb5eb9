// Package job tracks the remote indexing job: a poller that owns the cached
// JobStatus and a reconciler that applies optimistic start/stop predictions.
package job

import (
	"math"
	"strings"
	"time"

	"opsconsole/internal/backend"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// ParseState maps a server status string to a State. Unknown or empty
// values are idle.
func ParseState(s string) State {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateRunning:
		return StateRunning
	case StateCompleted:
		return StateCompleted
	case StateFailed:
		return StateFailed
	case StateStopped:
		return StateStopped
	default:
		return StateIdle
	}
}

// Terminal reports whether polling should cease in this state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeOther   Outcome = "other"
)

func parseOutcome(s string) Outcome {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "success"):
		return OutcomeSuccess
	case strings.Contains(l, "failed"):
		return OutcomeFailed
	default:
		return OutcomeOther
	}
}

type ItemResult struct {
	ID      string
	Label   string
	Outcome Outcome
	Raw     string // server outcome text as reported
}

// MaxRecentItems bounds the items kept for display.
const MaxRecentItems = 100

type JobStatus struct {
	State           State
	Running         bool
	Progress        int
	Total           int
	Items           []ItemResult
	CancelRequested bool

	// Predicted marks a local optimistic value not yet confirmed by the server.
	Predicted bool
	FetchedAt time.Time
}

// FromWire converts a status body into a JobStatus.
func FromWire(w backend.Status, at time.Time) JobStatus {
	st := JobStatus{
		State:     ParseState(w.Status),
		Progress:  max(0, w.Progress),
		Total:     max(0, w.Total),
		FetchedAt: at,
	}
	if w.Running != nil {
		st.Running = *w.Running
	} else {
		st.Running = st.State == StateRunning
	}
	if w.CancelRequested != nil {
		st.CancelRequested = *w.CancelRequested
	}
	items := w.Items
	if len(items) > MaxRecentItems {
		items = items[len(items)-MaxRecentItems:]
	}
	st.Items = make([]ItemResult, 0, len(items))
	for _, it := range items {
		st.Items = append(st.Items, ItemResult{
			ID:      string(it.ID),
			Label:   string(it.ProductName),
			Outcome: parseOutcome(string(it.Status)),
			Raw:     string(it.Status),
		})
	}
	return st
}

// Percent returns round(100*progress/total) clamped to [0, 100], or 0 when
// total is unknown.
func (s JobStatus) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(s.Progress) / float64(s.Total)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Recent returns the newest min(n, MaxRecentItems) items, oldest first.
func (s JobStatus) Recent(n int) []ItemResult {
	if n <= 0 || n > MaxRecentItems {
		n = MaxRecentItems
	}
	items := s.Items
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return append([]ItemResult(nil), items...)
}

func (s JobStatus) Terminal() bool { return s.State.Terminal() }

// Known reports whether the status came from (or was predicted on top of)
// at least one fetch.
func (s JobStatus) Known() bool { return !s.FetchedAt.IsZero() || s.Predicted }

func (s JobStatus) clone() JobStatus {
	s.Items = append([]ItemResult(nil), s.Items...)
	return s
}
