package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"opsconsole/internal/config"
)

func TestMapStorage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		wantErr bool
	}{
		{"absent", nil, false, false},
		{"none", &config.StorageConfig{Driver: "none"}, false, false},
		{"file", &config.StorageConfig{Driver: "file", Path: "p.json"}, true, false},
		{"sqlite", &config.StorageConfig{Driver: "SQLite", Path: "p.db"}, true, false},
		{"sqlite without path", &config.StorageConfig{Driver: "sqlite"}, false, true},
		{"bad busy", &config.StorageConfig{Driver: "sqlite", Path: "p.db", BusyTimeout: "soon"}, false, true},
		{"unknown", &config.StorageConfig{Driver: "redis"}, false, true},
	}
	for _, tt := range tests {
		sc, enabled, err := mapStorage(&config.Config{Storage: tt.sc})
		if (err != nil) != tt.wantErr || enabled != tt.enabled {
			t.Fatalf("%s: enabled=%v err=%v", tt.name, enabled, err)
		}
		if tt.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != config.DefaultSQLiteBusy) {
			t.Fatalf("sqlite mapped to %+v", sc)
		}
	}
}

func TestMapDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Telegram.LogChatID = 7
	cfg.Logging.Chat.Enabled = true

	w, err := mapWebhook(cfg)
	if err != nil {
		t.Fatalf("mapWebhook: %v", err)
	}
	if w.Addr != config.DefaultWebhookAddr || w.ReadTimeout != 10*time.Second || w.IdleTimeout != time.Minute {
		t.Fatalf("webhook = %+v", w)
	}

	c, err := mapConsole(cfg)
	if err != nil {
		t.Fatalf("mapConsole: %v", err)
	}
	if c.PollInterval != config.DefaultPollInterval || c.Zone == nil || c.LogAutoRefresh != 0 {
		t.Fatalf("console = %+v", c)
	}

	if l := mapLogging(cfg); l.Chat.Enabled || l.Chat.ChatID != 7 {
		t.Fatalf("chat logging must stay off without telegram: %+v", l.Chat)
	}
	cfg.Telegram.Enabled = true
	if l := mapLogging(cfg); !l.Chat.Enabled {
		t.Fatal("chat logging not enabled")
	}

	b, err := mapBackend(cfg)
	if err != nil || b.Timeout != config.DefaultBackendTimeout {
		t.Fatalf("backend = %+v, %v", b, err)
	}
	cfg.Backend.Timeout = "never"
	if _, err := mapBackend(cfg); err == nil {
		t.Fatal("bad timeout accepted")
	}
}

func TestStartServesWebhookWithoutTelegram(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "backend": {"api_base": "http://127.0.0.1:1", "ops_base": "http://127.0.0.1:1", "timeout": "200ms"},
  "console": {},
  "telegram": {"enabled": false},
  "logging": {"level": "error", "console": false, "file": {"enabled": false, "path": ""}, "chat": {"enabled": false, "min_level": "", "rate_per_sec": 0}},
  "webhook": {"enabled": true, "addr": "127.0.0.1:0"},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(filepath.Join(dir, "prefs.json")) + `"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for a.hooks.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("webhook listener did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + a.hooks.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}
