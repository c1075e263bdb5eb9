package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger not zero")
	}
	l.With(Comp("x")).Error("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop should not report zero")
	}
}

func TestConsoleLoggerWritesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewConsole(&buf, "debug").With(Comp("poller"))
	l.Info("tick", Int("progress", 3))
	out := buf.String()
	for _, want := range []string{"tick", "comp=", "poller", "progress=", "logx_test.go:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q lacks %q", out, want)
		}
	}
}

func TestFormatChat(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"poll failed","comp":"job","err":"timeout"}`)
	got := formatChat(line)
	want := "[WARN] poll failed\n- comp=job\n- err=timeout"
	if got != want {
		t.Fatalf("formatChat = %q", got)
	}
	if got := formatChat([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("raw = %q", got)
	}
	if got := truncate(strings.Repeat("a", 50), 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}

type recordSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordSink) SendLog(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestChatSinkHonoursMinLevel(t *testing.T) {
	t.Parallel()
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, ChatID: 9, MinLevel: "error", RatePerSec: 100}})
	defer svc.Close()
	sink := &recordSink{}
	svc.SetChatSink(sink)

	log.Warn("below threshold")
	log.Error("backend down")

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("error record never reached the chat sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.msgs) != 1 || !strings.HasPrefix(sink.msgs[0], "[ERROR] backend down") {
		t.Fatalf("msgs = %q", sink.msgs)
	}
}
