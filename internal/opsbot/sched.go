package opsbot

import (
	"context"
	"strconv"
	"strings"

	"opsconsole/internal/console/schedule"
	"opsconsole/internal/console/webhook"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

func (sc *scope) replySchedule(ctx context.Context, req *router.Request, prefix string) error {
	cfg, _ := sc.s.Schedule.Config()
	text := renderSchedule(cfg, sc.s.Scheduler.Running(), sc.s.Zone)
	if prefix != "" {
		text = prefix + "\n" + text
	}
	return req.ReplyHTML(ctx, text)
}

func (sc *scope) schedShow(ctx context.Context, req *router.Request) error {
	var warn []string
	if _, err := sc.s.Scheduler.Refresh(ctx); err != nil {
		req.Logger.Warn("scheduler status failed", logx.Err(err))
		warn = append(warn, "⚠️ "+escape(err.Error()))
	}
	if _, err := sc.s.Schedule.Load(ctx); err != nil {
		req.Logger.Warn("schedule load failed", logx.Err(err))
		warn = append(warn, "⚠️ "+escape(err.Error()))
	}
	return sc.replySchedule(ctx, req, strings.Join(warn, "\n"))
}

func (sc *scope) schedOn(ctx context.Context, req *router.Request) error {
	if err := sc.s.Scheduler.On(ctx); err != nil {
		return err
	}
	return sc.replySchedule(ctx, req, "")
}

func (sc *scope) schedOff(ctx context.Context, req *router.Request) error {
	if err := sc.s.Scheduler.Off(ctx); err != nil {
		return err
	}
	return sc.replySchedule(ctx, req, "")
}

// schedSet takes hour and minute positionally or as --hour/--minute.
// Omitted values fall back to the job's default.
func (sc *scope) schedSet(ctx context.Context, req *router.Request) error {
	const usage = "/sched set <job> [hour] [minute]"
	if len(req.Args) < 1 || len(req.Args) > 3 {
		return usageError(usage)
	}
	e := schedule.Edit{Job: schedule.JobName(req.Args[0])}
	if len(req.Args) > 1 {
		e.Hour = req.Args[1]
	}
	if len(req.Args) > 2 {
		e.Minute = req.Args[2]
	}
	e.Hour = req.Flag("hour", e.Hour)
	e.Minute = req.Flag("minute", e.Minute)
	if _, err := sc.s.Schedule.Save(ctx, e); err != nil {
		return err
	}
	return sc.replySchedule(ctx, req, "💾 schedule saved")
}

func (sc *scope) schedRun(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usageError("/sched run <job>")
	}
	msg, err := sc.s.Schedule.RunNow(ctx, schedule.JobName(strings.ToLower(req.Args[0])))
	if err != nil {
		return err
	}
	if msg == "" {
		msg = "triggered"
	}
	return sc.replySchedule(ctx, req, "🚀 "+escape(msg))
}

func (sc *scope) envShow(ctx context.Context, req *router.Request) error {
	return req.ReplyHTML(ctx, renderEnv(sc.s.Settings.Get(ctx)))
}

func (sc *scope) envPages(ctx context.Context, req *router.Request) error {
	const usage = "/env pages <start> <end>"
	if len(req.Args) != 2 {
		return usageError(usage)
	}
	a, err1 := strconv.Atoi(req.Args[0])
	b, err2 := strconv.Atoi(req.Args[1])
	if err1 != nil || err2 != nil {
		return usageError(usage)
	}
	msg, err := sc.s.Settings.SavePageRange(ctx, a, b)
	if err != nil {
		return err
	}
	return sc.replyEnv(ctx, req, msg)
}

func (sc *scope) envEmb(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usageError("/env emb <url>")
	}
	msg, err := sc.s.Settings.SaveEmbeddingServer(ctx, req.Args[0])
	if err != nil {
		return err
	}
	return sc.replyEnv(ctx, req, msg)
}

func (sc *scope) replyEnv(ctx context.Context, req *router.Request, msg string) error {
	if msg == "" {
		msg = "saved"
	}
	return req.ReplyHTML(ctx, "💾 "+escape(msg)+"\n"+renderEnv(sc.s.Settings.Get(ctx)))
}

func (sc *scope) webhookRegister(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		return usageError("/webhook <url>")
	}
	msg, err := webhook.Register(ctx, sc.s.Backend, req.Args[0])
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "🔗 "+escape(msg))
}
