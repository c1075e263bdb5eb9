package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	logs, unsubLogs := b.Subscribe(4, LogsUpdated)
	defer unsubLogs()

	Emit(b, JobStatus, 1)
	Emit(b, LogsUpdated, 2)

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(logs); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	if e := <-logs; e.Type != LogsUpdated || e.Data != 2 || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishNeverBlocksAndSurvivesUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	for i := 0; i < 10; i++ {
		Emit(b, JobAction, i)
	}
	if len(ch) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	Emit(b, JobAction, "after")
	Emit(nil, JobAction, "nil bus")
}
