// Package opsbot is the chat surface of the console: one command set over
// one console session per chat, plus pushes of job and log events.
package opsbot

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"opsconsole/internal/console"
	"opsconsole/internal/console/job"
	"opsconsole/internal/console/logstream"
	"opsconsole/internal/console/search"
	"opsconsole/internal/eventbus"
	rtsup "opsconsole/internal/runtime/supervisor"
	kit "opsconsole/internal/transport"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

// Options tune rendering.
type Options struct {
	LogTail     int   // lines shown by /logs and pushed per follow update
	MaxImage    int64 // largest accepted query image in bytes
	SearchShown int   // results rendered per search reply
}

func (o *Options) defaults() {
	if o.LogTail <= 0 {
		o.LogTail = 20
	}
	if o.MaxImage <= 0 {
		o.MaxImage = 10 << 20
	}
	if o.SearchShown <= 0 {
		o.SearchShown = 5
	}
}

// Bot owns the per-chat watchers and the last search of each chat.
type Bot struct {
	pool    *console.Pool
	adapter kit.Adapter
	opts    Options
	log     logx.Logger
	sup     *rtsup.Supervisor

	mu       sync.Mutex
	watching map[string]bool
	searches map[string]*searchView
}

// searchView is the last search shown in a chat.
type searchView struct {
	mu      sync.Mutex
	results []search.Result
	window  *search.HistoryWindow
}

func New(ctx context.Context, pool *console.Pool, adapter kit.Adapter, opts Options, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts.defaults()
	log = log.With(logx.Comp("opsbot"))
	return &Bot{
		pool:    pool,
		adapter: adapter,
		opts:    opts,
		log:     log,
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(log),
			rtsup.WithCancelOnError(false),
		),
		watching: map[string]bool{},
		searches: map[string]*searchView{},
	}
}

// Close stops every watcher.
func (b *Bot) Close(ctx context.Context) error {
	b.sup.Cancel()
	return b.sup.Wait(ctx)
}

func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// session returns the chat's console session, opening it and starting its
// watcher on first use.
func (b *Bot) session(ctx context.Context, req *router.Request) (*console.Session, error) {
	key := chatKey(req.Chat.ChatID)
	s, err := b.pool.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	first := !b.watching[key]
	b.watching[key] = true
	b.mu.Unlock()
	if first {
		b.watch(s, req.Chat)
	}
	return s, nil
}

// watch pushes session events to the chat until the bot closes.
func (b *Bot) watch(s *console.Session, chat kit.ChatTarget) {
	events, unsub := s.Bus.Subscribe(32, eventbus.JobStatus, eventbus.JobAction, eventbus.LogsUpdated)
	w := &watcher{bot: b, s: s, chat: chat}
	b.sup.Go("watch."+s.ID, func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e := <-events:
				w.handle(ctx, e)
			}
		}
	})
}

type watcher struct {
	bot  *Bot
	s    *console.Session
	chat kit.ChatTarget

	lastState job.State
	seenLines []string
}

func (w *watcher) send(ctx context.Context, text string) {
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if _, err := w.bot.adapter.SendText(sctx, w.chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		w.bot.log.Warn("push failed", logx.String("session", w.s.ID), logx.Err(err))
	}
}

func (w *watcher) handle(ctx context.Context, e eventbus.Event) {
	switch d := e.Data.(type) {
	case job.JobStatus:
		// Only authoritative transitions into a terminal state are pushed.
		if d.Predicted {
			return
		}
		prev := w.lastState
		w.lastState = d.State
		if d.Terminal() && prev != "" && prev != d.State {
			w.send(ctx, "🔔 "+renderTerminal(d))
		}
	case job.Action:
		if d.Phase == job.PhaseReconciled && d.Err != nil {
			w.send(ctx, "⚠️ "+escape(string(d.Intent))+" failed, status restored from the server: "+escape(d.Err.Error()))
		}
	case logstream.Update:
		w.logs(ctx, d)
	}
}

// logs pushes lines added since the last update while following.
func (w *watcher) logs(ctx context.Context, u logstream.Update) {
	fresh := newLines(w.seenLines, u.Lines)
	w.seenLines = u.Lines
	if !w.s.Logs.Follow() || u.First || len(fresh) == 0 {
		return
	}
	if n := w.bot.opts.LogTail; len(fresh) > n {
		fresh = fresh[len(fresh)-n:]
	}
	w.send(ctx, renderLogLines(fresh))
}

// newLines returns the lines of cur after its overlap with the end of
// prev. The backend returns a sliding window, so old lines fall off the
// front while new ones arrive at the back. No overlap means all of cur is new.
func newLines(prev, cur []string) []string {
	for k := min(len(prev), len(cur)); k > 0; k-- {
		if slices.Equal(prev[len(prev)-k:], cur[:k]) {
			return cur[k:]
		}
	}
	return cur
}

func (b *Bot) setSearch(key string, v *searchView) {
	b.mu.Lock()
	b.searches[key] = v
	b.mu.Unlock()
}

func (b *Bot) lastSearch(key string) (*searchView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.searches[key]
	return v, ok
}
