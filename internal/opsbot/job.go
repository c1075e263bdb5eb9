package opsbot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"opsconsole/internal/console/job"
	"opsconsole/internal/console/logstream"
	kit "opsconsole/internal/transport"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

const maxLogTail = 200

func (sc *scope) statusButtons(st job.JobStatus) []kit.Button {
	row := []kit.Button{button("🔄 Refresh", "job:refresh")}
	if st.Running {
		row = append(row, button("⏹ Stop", "job:stop"))
	} else {
		row = append(row, button("▶️ Start", "job:start"))
	}
	return row
}

// replyStatus refreshes the job status and renders it. A failed refresh
// still shows the last known status.
func (sc *scope) replyStatus(ctx context.Context, req *router.Request, prefix string) error {
	st, err := sc.s.Poller.Sync(ctx)
	text := renderStatus(st, sc.s.Poller.Polling(), sc.s.Zone, 5)
	if err != nil {
		req.Logger.Warn("status refresh failed", logx.Err(err))
		text = "⚠️ refresh failed: " + escape(err.Error()) + "\n" + text
	}
	if prefix != "" {
		text = prefix + "\n" + text
	}
	return req.ReplyHTML(ctx, text, sc.statusButtons(sc.s.Poller.Status()))
}

func (sc *scope) status(ctx context.Context, req *router.Request) error {
	return sc.replyStatus(ctx, req, "")
}

func (sc *scope) act(ctx context.Context, req *router.Request, start bool) error {
	var (
		a   job.Action
		err error
	)
	if start {
		a, err = sc.s.Jobs.StartJob(ctx)
	} else {
		a, err = sc.s.Jobs.StopJob(ctx)
	}
	if err != nil {
		return err
	}
	st := sc.s.Poller.Status()
	return req.ReplyHTML(ctx, renderAction(a)+"\n"+renderStatus(st, sc.s.Poller.Polling(), sc.s.Zone, 0), sc.statusButtons(st))
}

func (sc *scope) indexStart(ctx context.Context, req *router.Request) error {
	return sc.act(ctx, req, true)
}

func (sc *scope) indexStop(ctx context.Context, req *router.Request) error {
	return sc.act(ctx, req, false)
}

func (sc *scope) indexPoll(ctx context.Context, req *router.Request) error {
	on, err := parseOnOff(req.Args, "/index poll on|off")
	if err != nil {
		return err
	}
	if on {
		sc.s.Poller.Start()
		return req.ReplyHTML(ctx, "status polling <b>on</b>")
	}
	sc.s.Poller.Stop()
	return req.ReplyHTML(ctx, "status polling <b>off</b>")
}

func (sc *scope) cbJobRefresh(ctx context.Context, req *router.Request, _ string) error {
	return sc.replyStatus(ctx, req, "")
}

func (sc *scope) cbJobStart(ctx context.Context, req *router.Request, _ string) error {
	return sc.act(ctx, req, true)
}

func (sc *scope) cbJobStop(ctx context.Context, req *router.Request, _ string) error {
	return sc.act(ctx, req, false)
}

func (sc *scope) logs(ctx context.Context, req *router.Request) error {
	n := sc.opts.LogTail
	if len(req.Args) > 0 {
		v, err := parseCount(req.Args[0], 1, maxLogTail)
		if err != nil {
			return err
		}
		n = v
	}
	var warn string
	if _, err := sc.s.Logs.Refresh(ctx); err != nil {
		req.Logger.Warn("log refresh failed", logx.Err(err))
		warn = "⚠️ refresh failed: " + escape(err.Error()) + "\n"
	}
	total := len(sc.s.Logs.Lines())
	head := fmt.Sprintf("<b>Log</b> last %d of %d lines", min(n, total), total)
	if sc.s.Logs.Follow() {
		head += " · following"
	}
	return req.ReplyHTML(ctx, warn+head+"\n"+renderLogLines(sc.s.Logs.Tail(n)))
}

func (sc *scope) logsClear(ctx context.Context, req *router.Request) error {
	if err := sc.s.Logs.Clear(ctx); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "🧹 log cleared")
}

func (sc *scope) logsAuto(ctx context.Context, req *router.Request) error {
	const usage = "/logs auto 0|3|5|10"
	if len(req.Args) != 1 {
		return usageError(usage)
	}
	secs, err := parseCount(req.Args[0], 0, 3600)
	if err != nil {
		return usageError(usage)
	}
	if err := sc.s.SetLogAutoRefresh(ctx, time.Duration(secs)*time.Second); err != nil {
		return err
	}
	if secs == 0 {
		return req.ReplyHTML(ctx, "log auto-refresh <b>off</b>")
	}
	return req.ReplyHTML(ctx, fmt.Sprintf("log auto-refresh every <b>%ds</b>", secs))
}

func (sc *scope) logsFollow(ctx context.Context, req *router.Request) error {
	on, err := parseOnOff(req.Args, "/logs follow on|off")
	if err != nil {
		return err
	}
	sc.s.Logs.SetFollow(on)
	if !on {
		return req.ReplyHTML(ctx, "log follow <b>off</b>")
	}
	msg := "log follow <b>on</b>: new lines are pushed here"
	if sc.s.Logs.AutoRefresh() == 0 {
		msg += fmt.Sprintf(" after each refresh; enable /logs auto %d for a live feed",
			int(logstream.AutoRefreshChoices[1]/time.Second))
	}
	return req.ReplyHTML(ctx, msg)
}

func (sc *scope) logsExport(ctx context.Context, req *router.Request) error {
	if _, err := sc.s.Logs.Refresh(ctx); err != nil {
		req.Logger.Warn("log refresh before export failed", logx.Err(err))
	}
	var buf bytes.Buffer
	if err := sc.s.Logs.Export(&buf); err != nil {
		return err
	}
	if buf.Len() == 0 {
		return req.ReplyHTML(ctx, renderLogLines(nil))
	}
	name := "index-log-" + time.Now().In(sc.s.Zone).Format("20060102-150405") + ".txt"
	_, err := sc.adapter.SendDocument(ctx, req.Chat, kit.Upload{Name: name, Data: &buf, Caption: "index log"})
	return err
}
