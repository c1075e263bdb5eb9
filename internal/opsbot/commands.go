package opsbot

import (
	"context"
	"time"

	"opsconsole/internal/transport/telegram/router"
)

// sessionHandler and callbackHandler take the scope first so method
// expressions like (*scope).status fit directly.
type (
	sessionHandler  func(sc *scope, ctx context.Context, req *router.Request) error
	callbackHandler func(sc *scope, ctx context.Context, req *router.Request, payload string) error
)

// bind opens the chat's session before running h.
func (b *Bot) bind(h sessionHandler) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		s, err := b.session(ctx, req)
		if err != nil {
			return err
		}
		return h(&scope{Bot: b, s: s}, ctx, req)
	}
}

func (b *Bot) bindCallback(h callbackHandler) router.CallbackHandlerFunc {
	return func(ctx context.Context, req *router.Request, payload string) error {
		s, err := b.session(ctx, req)
		if err != nil {
			return err
		}
		return h(&scope{Bot: b, s: s}, ctx, req, payload)
	}
}

// Commands is the full command set. Everything but help is owner-only.
func (b *Bot) Commands() []router.Command {
	owner := func(route, desc, usage string, h sessionHandler, aliases ...string) router.Command {
		return router.Command{
			Route:       route,
			Aliases:     aliases,
			Description: desc,
			Usage:       usage,
			Access:      router.AccessOwnerOnly,
			Handle:      b.bind(h),
		}
	}
	slow := func(c router.Command, d time.Duration) router.Command {
		c.Timeout = d
		return c
	}
	return []router.Command{
		owner("status", "indexing job status", "/status", (*scope).status, "st"),
		owner("index start", "start the indexing job", "/index start", (*scope).indexStart),
		owner("index stop", "stop the indexing job", "/index stop", (*scope).indexStop),
		owner("index poll", "turn status polling on or off", "/index poll on|off", (*scope).indexPoll),

		owner("logs", "show the log tail", "/logs [n]", (*scope).logs),
		owner("logs refresh", "reload the log", "/logs refresh [n]", (*scope).logs),
		owner("logs clear", "clear the backend log", "/logs clear", (*scope).logsClear),
		owner("logs auto", "log auto-refresh interval", "/logs auto 0|3|5|10", (*scope).logsAuto),
		owner("logs follow", "push new log lines to this chat", "/logs follow on|off", (*scope).logsFollow),
		owner("logs export", "send the log as a file", "/logs export", (*scope).logsExport),

		owner("tasks status", "task cancellation flag", "/tasks status", (*scope).tasksStatus),
		owner("tasks stop", "cancel running tasks", "/tasks stop", (*scope).tasksStop),
		owner("tasks resume", "allow tasks again", "/tasks resume", (*scope).tasksResume),

		owner("categories show", "saved category selection", "/categories show", (*scope).categoriesShow, "cats"),
		owner("categories save", "save a category selection", "/categories save <name...>", (*scope).categoriesSave),
		owner("categories all", "save every category", "/categories all", (*scope).categoriesAll),
		owner("categories reset", "delete the saved selection", "/categories reset", (*scope).categoriesReset),

		owner("scrape list", "scrape tasks", "/scrape list", familyList(scrape)),
		owner("scrape pick", "select a scrape task", "/scrape pick <key>", familyPick(scrape)),
		owner("scrape clear", "clear the scrape selection", "/scrape clear", familyClear(scrape)),
		slow(owner("scrape run", "run the selected scrape task", "/scrape run", familyRun(scrape)), 10*time.Minute),
		owner("upload list", "upload tasks", "/upload list", familyList(upload)),
		owner("upload pick", "select an upload task", "/upload pick <key>", familyPick(upload)),
		owner("upload clear", "clear the upload selection", "/upload clear", familyClear(upload)),
		slow(owner("upload run", "run the selected upload task", "/upload run", familyRun(upload)), 10*time.Minute),

		owner("sched show", "scheduler jobs and next runs", "/sched show", (*scope).schedShow),
		owner("sched on", "turn the scheduler on", "/sched on", (*scope).schedOn),
		owner("sched off", "turn the scheduler off", "/sched off", (*scope).schedOff),
		owner("sched set", "change a job's hour and minute", "/sched set <job> [hour] [minute]", (*scope).schedSet),
		owner("sched run", "run a scheduled job now", "/sched run <job>", (*scope).schedRun),

		owner("env show", "backend settings", "/env show", (*scope).envShow),
		owner("env pages", "scrape page range", "/env pages <start> <end>", (*scope).envPages),
		owner("env emb", "embedding server URL", "/env emb <url>", (*scope).envEmb),
		owner("webhook", "register the completion webhook", "/webhook <url>", (*scope).webhookRegister),

		owner("metrics", "product counts per category", "/metrics [D|R]", (*scope).metrics),
		slow(owner("search", "search products; attach a photo for image search", "/search <query> [--top 10|20|30] [--alpha 0.7]", (*scope).search), 2*time.Minute),
		owner("prefs", "show or change preferences", "/prefs [history <n>|step <n>]", (*scope).prefs),
	}
}

// Callbacks are the inline button routes.
func (b *Bot) Callbacks() []router.CallbackRoute {
	cb := func(prefix, action string, h callbackHandler) router.CallbackRoute {
		return router.CallbackRoute{Prefix: prefix, Action: action, Handle: b.bindCallback(h)}
	}
	return []router.CallbackRoute{
		cb("job", "refresh", (*scope).cbJobRefresh),
		cb("job", "start", (*scope).cbJobStart),
		cb("job", "stop", (*scope).cbJobStop),
		cb("scrape", "pick", cbPick(scrape)),
		cb("scrape", "run", cbRun(scrape)),
		cb("upload", "pick", cbPick(upload)),
		cb("upload", "run", cbRun(upload)),
		cb("hist", "more", (*scope).cbHistoryMore),
		cb("hist", "csv", (*scope).cbHistoryCSV),
	}
}

// Media is the handler for photos sent without a command: an image search.
func (b *Bot) Media() router.HandlerFunc {
	return b.bind((*scope).search)
}

// Register installs the command set on m.
func (b *Bot) Register(m *router.CommandManager) {
	m.SetRegistry(b.Commands(), b.Callbacks())
	m.SetMediaHandler(b.Media())
}
