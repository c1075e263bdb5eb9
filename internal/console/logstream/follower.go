// Package logstream follows the backend log buffer. Every refresh replaces
// the local copy wholesale; the server holds the full content.
package logstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opsconsole/internal/eventbus"
	"opsconsole/internal/timer"
	logx "opsconsole/pkg/logx"
)

// DefaultFollowThreshold is the distance from the bottom, in the viewer's
// units, that still counts as "at the bottom".
const DefaultFollowThreshold = 8

// AutoRefreshChoices are the cadences offered to operators.
var AutoRefreshChoices = []time.Duration{0, 3 * time.Second, 5 * time.Second, 10 * time.Second}

type Source interface {
	Logs(ctx context.Context) ([]string, error)
	ClearLogs(ctx context.Context) error
}

// ScrollPosition is a viewer's scroll state.
type ScrollPosition struct {
	Top    int // scrolled offset
	Height int // total content height
	Client int // visible height
}

// Update is published after every applied population.
type Update struct {
	Lines          []string
	ScrollToBottom bool
	First          bool
	At             time.Time
}

type Config struct {
	Bus       eventbus.Bus
	Logger    logx.Logger
	Threshold int
	Now       func() time.Time
}

type Follower struct {
	src   Source
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
	base  context.Context
	timer *timer.Ticker

	mu        sync.Mutex
	lines     []string
	populated bool
	follow    bool
	threshold int
	auto      time.Duration
	clearing  int // Clear calls in progress; the timer stays paused
	epoch     uint64
	issued    uint64
	applied   uint64
}

// NewFollower creates a follower with auto-refresh off. ctx bounds
// timer-driven refreshes.
func NewFollower(ctx context.Context, src Source, cfg Config) *Follower {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultFollowThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	f := &Follower{
		src:       src,
		bus:       cfg.Bus,
		log:       cfg.Logger,
		now:       cfg.Now,
		base:      ctx,
		follow:    true,
		threshold: cfg.Threshold,
	}
	f.timer = timer.New("logs.refresh", f.timerTick, cfg.Logger)
	return f
}

func (f *Follower) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// Tail returns the last n lines.
func (f *Follower) Tail(n int) []string {
	lines := f.Lines()
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func (f *Follower) Follow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.follow
}

func (f *Follower) SetFollow(on bool) {
	f.mu.Lock()
	f.follow = on
	f.mu.Unlock()
}

// Scrolled records the viewer position and returns the resulting follow state.
func (f *Follower) Scrolled(p ScrollPosition) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.follow = p.Height-p.Top-p.Client < f.threshold
	return f.follow
}

func (f *Follower) AutoRefresh() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto
}

// SetAutoRefresh sets the refresh cadence; 0 turns it off. During a Clear
// only the cadence is recorded and Clear applies it when it finishes.
func (f *Follower) SetAutoRefresh(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.auto = d
	paused := f.clearing > 0
	f.mu.Unlock()
	if !paused {
		f.timer.Reset(f.base, d)
	}
	f.log.Debug("log auto refresh", logx.Duration("every", d))
}

// Close stops auto-refresh.
func (f *Follower) Close() { f.timer.Stop() }

// Refresh replaces the buffer with the server's lines. A failure keeps
// the buffer. Results of refreshes that started before a Clear, or before a
// newer refresh was applied, are dropped.
func (f *Follower) Refresh(ctx context.Context) (Update, error) {
	return f.refresh(ctx, func() bool { return true })
}

func (f *Follower) timerTick(ctx context.Context, gen uint64) {
	if _, err := f.refresh(ctx, func() bool { return f.timer.Live(gen) }); err != nil {
		f.log.Warn("log refresh failed", logx.Err(err))
	}
}

func (f *Follower) refresh(ctx context.Context, live func() bool) (Update, error) {
	f.mu.Lock()
	epoch := f.epoch
	f.issued++
	seq := f.issued
	f.mu.Unlock()

	lines, err := f.src.Logs(ctx)
	if err != nil {
		return f.snapshot(), fmt.Errorf("refresh logs: %w", err)
	}
	if !live() {
		return f.snapshot(), nil
	}

	f.mu.Lock()
	if epoch != f.epoch || seq <= f.applied {
		f.mu.Unlock()
		return f.snapshot(), nil
	}
	f.applied = seq
	first := !f.populated
	f.populated = true
	f.lines = append([]string(nil), lines...)
	up := Update{
		Lines:          append([]string(nil), lines...),
		First:          first,
		ScrollToBottom: !first && f.follow,
		At:             f.now(),
	}
	f.mu.Unlock()

	eventbus.Emit(f.bus, eventbus.LogsUpdated, up)
	return up, nil
}

func (f *Follower) snapshot() Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Update{Lines: append([]string(nil), f.lines...), At: f.now()}
}

// Clear deletes the backend log buffer. It does nothing on an empty
// buffer. Auto-refresh is paused for the duration and restored on every
// exit path.
func (f *Follower) Clear(ctx context.Context) (err error) {
	f.mu.Lock()
	if len(f.lines) == 0 {
		f.mu.Unlock()
		return nil
	}
	f.epoch++
	f.lines = nil
	f.clearing++
	f.mu.Unlock()

	f.timer.Stop()
	defer func() {
		f.mu.Lock()
		f.clearing--
		resume := f.clearing == 0
		d := f.auto
		f.mu.Unlock()
		if resume {
			f.timer.Reset(f.base, d)
		}
	}()

	eventbus.Emit(f.bus, eventbus.LogsUpdated, Update{At: f.now()})

	if err := f.src.ClearLogs(ctx); err != nil {
		f.log.Warn("clear logs failed", logx.Err(err))
		return fmt.Errorf("clear logs: %w", err)
	}
	if _, err := f.Refresh(ctx); err != nil {
		return err
	}
	f.log.Info("logs cleared")
	return nil
}

// Export writes the buffer, one line per line.
func (f *Follower) Export(w io.Writer) error {
	lines := f.Lines()
	if len(lines) == 0 {
		return nil
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// SaveFile writes the buffer to dir/logs-<timestamp>.txt and returns the path.
func (f *Follower) SaveFile(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	name := "logs-" + f.now().UTC().Format("20060102T150405Z") + ".txt"
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"

	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	if err := f.Export(fh); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
