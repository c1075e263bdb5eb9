package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "opsconsole/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "prefs.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutPref(ctx, "42", KeyHistoryStep, "10"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.PutPref(ctx, "42", KeyHistoryStep, "15"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.PutPref(ctx, "7", KeyHistoryStep, "3"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if v, ok, _ := st.GetPref(ctx, "42", KeyHistoryStep); !ok || v != "15" {
		t.Fatalf("scope 42 = %q, %v", v, ok)
	}
	if v, ok, _ := st.GetPref(ctx, "7", KeyHistoryStep); !ok || v != "3" {
		t.Fatalf("scope 7 = %q, %v", v, ok)
	}
	if _, ok, _ := st.GetPref(ctx, "42", KeyLogsAuto); ok {
		t.Fatal("missing key reported present")
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutPref(ctx, "cli", KeyLogsAuto, "5"); err != nil {
		t.Fatalf("PutPref: %v", err)
	}
	if err := st.PutPref(ctx, "cli", KeyLogsAuto, "10"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	st.Close()

	st, err = Open(Config{Driver: "sqlite3", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if v, ok, err := st.GetPref(ctx, "cli", KeyLogsAuto); err != nil || !ok || v != "10" {
		t.Fatalf("GetPref = %q, %v, %v", v, ok, err)
	}
}

func TestPrefsDefaultsAndBounds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewPrefs(nil, "x")

	if p.HistoryDefault(ctx) != 5 || p.HistoryStep(ctx) != 5 || p.LogsAuto(ctx) != 0 {
		t.Fatal("unexpected defaults")
	}
	if err := p.SetHistoryDefault(ctx, 0); err == nil {
		t.Fatal("zero window accepted")
	}
	if err := p.SetHistoryDefault(ctx, 12); err != nil {
		t.Fatal(err)
	}
	if err := p.SetLogsAuto(ctx, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if p.HistoryDefault(ctx) != 12 || p.LogsAuto(ctx) != 5*time.Second {
		t.Fatalf("got %d %v", p.HistoryDefault(ctx), p.LogsAuto(ctx))
	}
}

func TestPrefsIgnoresCorruptValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "p.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	_ = st.PutPref(ctx, "s", KeyHistoryStep, "lots")
	_ = st.PutPref(ctx, "s", KeyHistoryDefault, "-3")

	p := NewPrefs(st, "s")
	if p.HistoryStep(ctx) != DefaultHistoryStep || p.HistoryDefault(ctx) != DefaultHistoryDefault {
		t.Fatal("corrupt values were not replaced by defaults")
	}
}
