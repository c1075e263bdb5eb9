// Package app wires the opsconsole daemon: config, logging, storage, the
// backend client, the telegram bot and the webhook receiver.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"opsconsole/internal/backend"
	"opsconsole/internal/config"
	"opsconsole/internal/console"
	"opsconsole/internal/console/webhook"
	"opsconsole/internal/eventbus"
	"opsconsole/internal/opsbot"
	rtsup "opsconsole/internal/runtime/supervisor"
	"opsconsole/internal/storage"
	kit "opsconsole/internal/transport"
	telegram "opsconsole/internal/transport/telegram/adapter"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	client  *backend.Client
	copts   console.Options
	pool    *console.Pool
	adapter *telegram.Adapter // nil when telegram is disabled
	cmdm    *router.CommandManager
	bot     *opsbot.Bot
	hooks   *webhook.Server

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.Comp("app"))

	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bcfg, err := mapBackend(cfg)
	if err != nil {
		return nil, err
	}
	client := backend.New(bcfg, backend.WithLogger(log.With(logx.Comp("backend"))))

	copts, err := mapConsole(cfg)
	if err != nil {
		return nil, err
	}
	copts.Logger = log

	var ad *telegram.Adapter
	if cfg.Telegram.Enabled {
		tcfg, err := mapTelegram(cfg)
		if err != nil {
			return nil, err
		}
		ad, err = telegram.New(tcfg, log.With(logx.Comp("telegram")))
		if err != nil {
			return nil, err
		}
		logSvc.SetChatSink(ad)
	}

	wcfg, err := mapWebhook(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     eventbus.New(),
		store:   store,
		client:  client,
		copts:   copts,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	a.hooks = webhook.NewServer(wcfg, a.receiver, log)
	return a, nil
}

// receiver builds the webhook handler for the active server config.
func (a *App) receiver(cfg webhook.ServerConfig) http.Handler {
	return webhook.NewReceiver(a.pool, webhook.ReceiverConfig{
		Path:   cfg.Path,
		Token:  cfg.Token,
		Bus:    a.bus,
		Logger: a.log.With(logx.Comp("webhook")),
		Base:   a.sup.Context(),

		Profiling: cfg.Profiling,
	})
}

// prefs gives every chat its own preference scope.
func (a *App) prefs(key string) *storage.Prefs {
	return storage.NewPrefs(a.store, "chat:"+key)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	sctx := a.sup.Context()
	cfg := a.cfgm.Get()

	a.pool = console.NewPool(sctx, a.client, a.copts, a.prefs)

	if a.adapter != nil {
		a.cmdm = router.NewCommandManager(a.log.With(logx.Comp("commands")), a.adapter, cfg.Telegram.OwnerUserIDs)
		logTail := cfg.Console.LogTail
		if logTail == 0 {
			logTail = config.DefaultLogTail
		}
		a.bot = opsbot.New(sctx, a.pool, a.adapter, opsbot.Options{LogTail: logTail}, a.log)
		a.bot.Register(a.cmdm)

		if err := a.adapter.Start(sctx, a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
		a.sup.Go("telegram.menu", func(c context.Context) error {
			if err := a.cmdm.SyncMenu(c); err != nil {
				a.log.Warn("command menu sync failed", logx.Err(err))
			}
			return nil
		})
	} else {
		a.log.Info("telegram disabled; running webhook receiver only")
	}

	if a.hooks.Enabled() {
		a.hooks.Start(sctx)
	}
	if u := strings.TrimSpace(cfg.Webhook.PublicURL); u != "" {
		a.sup.Go("webhook.register", func(c context.Context) error {
			msg, err := webhook.Register(c, a.client, u)
			if err != nil {
				a.log.Warn("webhook registration failed", logx.String("url", u), logx.Err(err))
				return nil
			}
			a.log.Info("webhook registered", logx.String("url", u), logx.String("reply", msg))
			return nil
		})
	}

	hits, unsub := a.bus.Subscribe(32, eventbus.WebhookReceived)
	a.sup.Go("webhook.hits", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e := <-hits:
				if h, ok := e.Data.(webhook.Hit); ok {
					a.log.Debug("webhook hit", logx.String("id", h.ID), logx.Any("payload", h.Payload))
				}
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Bool("telegram", a.adapter != nil), logx.Bool("webhook", a.hooks.Enabled()))
	return nil
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// reloadLoop applies hot-reloadable sections. Backend, storage and the
// telegram token need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	restart := false
	for _, s := range sections {
		if s == "backend" || s == "storage" {
			restart = true
		}
	}
	if prev.Telegram.Enabled != next.Telegram.Enabled || prev.Telegram.Token != next.Telegram.Token {
		restart = true
	}
	if restart {
		a.log.Warn("some changes need a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}

	a.logs.Apply(mapLogging(next))
	if a.cmdm != nil {
		a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if copts, err := mapConsole(next); err != nil {
		a.log.Warn("invalid console config; keeping previous", logx.Err(err))
	} else {
		a.pool.SetPollInterval(copts.PollInterval)
	}
	if wcfg, err := mapWebhook(next); err != nil {
		a.log.Warn("invalid webhook config; keeping previous", logx.Err(err))
	} else {
		a.hooks.Reconfigure(ctx, wcfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop runs the shutdown steps in order, each under its own deadline.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sdNotify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.bot != nil {
		step("opsbot", 2*time.Second, a.bot.Close)
	}
	step("sessions", time.Second, func(context.Context) error { a.pool.CloseAll(); return nil })
	step("webhook", 3*time.Second, func(c context.Context) error { a.hooks.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
