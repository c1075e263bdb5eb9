package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	KeyHistoryDefault = "history.default"
	KeyHistoryStep    = "history.step"
	KeyLogsAuto       = "logs.auto"

	DefaultHistoryDefault = 5
	DefaultHistoryStep    = 5
	MaxHistoryWindow      = 100
)

// Prefs is a typed view over one scope of a Store. A nil Store keeps values
// in memory for the lifetime of the view.
type Prefs struct {
	store Store
	scope string

	mu  sync.Mutex
	mem map[string]string
}

func NewPrefs(store Store, scope string) *Prefs {
	return &Prefs{store: store, scope: scope, mem: map[string]string{}}
}

func (p *Prefs) get(ctx context.Context, key string) (string, bool, error) {
	if p.store == nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		v, ok := p.mem[key]
		return v, ok, nil
	}
	return p.store.GetPref(ctx, p.scope, key)
}

func (p *Prefs) put(ctx context.Context, key, value string) error {
	if p.store == nil {
		p.mu.Lock()
		p.mem[key] = value
		p.mu.Unlock()
		return nil
	}
	if err := p.store.PutPref(ctx, p.scope, key, value); err != nil {
		return fmt.Errorf("save pref %s: %w", key, err)
	}
	return nil
}

// intPref returns def when the value is missing, unreadable or out of range.
func (p *Prefs) intPref(ctx context.Context, key string, def, lo, hi int) int {
	v, ok, err := p.get(ctx, key)
	if err != nil || !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return def
	}
	return n
}

func (p *Prefs) HistoryDefault(ctx context.Context) int {
	return p.intPref(ctx, KeyHistoryDefault, DefaultHistoryDefault, 1, MaxHistoryWindow)
}

func (p *Prefs) HistoryStep(ctx context.Context) int {
	return p.intPref(ctx, KeyHistoryStep, DefaultHistoryStep, 1, MaxHistoryWindow)
}

func (p *Prefs) SetHistoryDefault(ctx context.Context, n int) error {
	if n < 1 || n > MaxHistoryWindow {
		return fmt.Errorf("history.default must be 1..%d", MaxHistoryWindow)
	}
	return p.put(ctx, KeyHistoryDefault, strconv.Itoa(n))
}

func (p *Prefs) SetHistoryStep(ctx context.Context, n int) error {
	if n < 1 || n > MaxHistoryWindow {
		return fmt.Errorf("history.step must be 1..%d", MaxHistoryWindow)
	}
	return p.put(ctx, KeyHistoryStep, strconv.Itoa(n))
}

// LogsAuto is the saved log auto-refresh interval; 0 means off.
func (p *Prefs) LogsAuto(ctx context.Context) time.Duration {
	return time.Duration(p.intPref(ctx, KeyLogsAuto, 0, 0, 3600)) * time.Second
}

func (p *Prefs) SetLogsAuto(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("logs.auto must not be negative")
	}
	return p.put(ctx, KeyLogsAuto, strconv.Itoa(int(d/time.Second)))
}
