package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/job"
	"opsconsole/internal/eventbus"
)

type fakeTarget struct {
	ticks atomic.Int32
}

func (f *fakeTarget) Tick(ctx context.Context) (job.JobStatus, error) {
	f.ticks.Add(1)
	return f.Status(), nil
}

func (f *fakeTarget) Status() job.JobStatus {
	return job.JobStatus{State: job.StateCompleted, Progress: 3, Total: 4}
}

type fakeRegistrar struct {
	got  string
	resp backend.MessageResponse
	err  error
}

func (f *fakeRegistrar) RegisterWebhook(ctx context.Context, u string) (backend.MessageResponse, error) {
	f.got = u
	return f.resp, f.err
}

func TestRegisterValidatesBeforeSending(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		ok   bool
		want string
	}{
		{"https://app.example/api/webhook/index-complete", true, "webhook registered"},
		{"  http://10.0.0.1:8089/hook ", true, "webhook registered"},
		{"ftp://app.example/x", false, ""},
		{"app.example/hook", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		r := &fakeRegistrar{}
		msg, err := Register(context.Background(), r, tt.in)
		if tt.ok {
			if err != nil || msg != tt.want {
				t.Fatalf("Register(%q) = %q, %v", tt.in, msg, err)
			}
			if r.got != strings.TrimSpace(tt.in) {
				t.Fatalf("sent %q", r.got)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidURL) || r.got != "" {
			t.Fatalf("Register(%q) err = %v sent = %q", tt.in, err, r.got)
		}
	}

	r := &fakeRegistrar{resp: backend.MessageResponse{Message: "saved"}}
	if msg, _ := Register(context.Background(), r, "https://x.example/h"); msg != "saved" {
		t.Fatalf("backend message not passed through: %q", msg)
	}
}

func TestReceiverHookTriggersRefresh(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	hits, unsub := bus.Subscribe(4, eventbus.WebhookReceived)
	defer unsub()

	target := &fakeTarget{}
	srv := httptest.NewServer(NewReceiver(target, ReceiverConfig{Token: "s3cret", Bus: bus}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hook", "application/json", strings.NewReader(`{"status":"completed"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated hook status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/hook", strings.NewReader(`{"status":"completed"}`))
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("hook status = %d", resp.StatusCode)
	}

	select {
	case e := <-hits:
		hit := e.Data.(Hit)
		if hit.ID == "" || hit.Payload["status"] != "completed" {
			t.Fatalf("hit = %+v", hit)
		}
	case <-time.After(time.Second):
		t.Fatal("no webhook event published")
	}
	deadline := time.Now().Add(time.Second)
	for target.ticks.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("webhook did not trigger a status refresh")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestReceiverStatusAndHealth(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(NewReceiver(&fakeTarget{}, ReceiverConfig{Path: "index-done/"}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var v statusView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.State != "completed" || v.Percent != 75 {
		t.Fatalf("status = %+v", v)
	}

	resp2, err := http.Post(srv.URL+"/index-done", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("custom path status = %d", resp2.StatusCode)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:8089":   false,
		"10.1.2.3:80":    false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestReceiverProfilingIsOptIn(t *testing.T) {
	t.Parallel()
	for _, on := range []bool{false, true} {
		srv := httptest.NewServer(NewReceiver(&fakeTarget{}, ReceiverConfig{Token: "s3cret", Profiling: on}))
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/debug/pprof/", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			srv.Close()
			t.Fatal(err)
		}
		resp.Body.Close()
		srv.Close()
		want := http.StatusNotFound
		if on {
			want = http.StatusOK
		}
		if resp.StatusCode != want {
			t.Fatalf("profiling=%v: status = %d, want %d", on, resp.StatusCode, want)
		}
	}
}
