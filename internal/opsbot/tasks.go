package opsbot

import (
	"context"
	"errors"
	"strings"

	"opsconsole/internal/console/gate"
	"opsconsole/internal/console/selector"
	kit "opsconsole/internal/transport"
	"opsconsole/internal/transport/telegram/router"
	logx "opsconsole/pkg/logx"
)

const (
	scrape = gate.FamilyScrape
	upload = gate.FamilyUpload
)

func (sc *scope) selector(f gate.Family) *selector.Selector {
	if f == upload {
		return sc.s.Upload
	}
	return sc.s.Scrape
}

func (sc *scope) tasksStatus(ctx context.Context, req *router.Request) error {
	c, err := sc.s.Gate.RefreshCancel(ctx)
	if err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "task cancellation: <b>"+cancelLabel(c)+"</b>")
}

func cancelLabel(c *bool) string {
	switch {
	case c == nil:
		return "unknown"
	case *c:
		return "cancelled"
	default:
		return "active"
	}
}

func (sc *scope) tasksStop(ctx context.Context, req *router.Request) error {
	if err := sc.s.Gate.Cancel(ctx); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "⏹ tasks cancelled; scrape and upload are blocked until /tasks resume")
}

func (sc *scope) tasksResume(ctx context.Context, req *router.Request) error {
	if err := sc.s.Gate.Resume(ctx); err != nil {
		return err
	}
	return req.ReplyHTML(ctx, "▶️ tasks resumed")
}

func (sc *scope) replyGate(ctx context.Context, req *router.Request, prefix string) error {
	text := renderGate(sc.s.Gate.State(), sc.s.Gate.Catalog())
	if prefix != "" {
		text = prefix + "\n" + text
	}
	return req.ReplyHTML(ctx, text)
}

func (sc *scope) categoriesShow(ctx context.Context, req *router.Request) error {
	prefix := ""
	if err := sc.s.Gate.Load(ctx); err != nil {
		req.Logger.Warn("category load failed", logx.Err(err))
		prefix = "⚠️ reload failed: " + escape(err.Error())
	}
	return sc.replyGate(ctx, req, prefix)
}

func (sc *scope) categoriesSave(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return usageError("/categories save <name...>")
	}
	if _, err := sc.s.Gate.Save(ctx, req.Args); err != nil {
		var unknown *gate.UnknownCategoryError
		if errors.As(err, &unknown) {
			return errors.Join(err, errors.New("known: "+strings.Join(sc.s.Gate.Catalog().Names(), ", ")))
		}
		return err
	}
	return sc.replyGate(ctx, req, "💾 saved")
}

func (sc *scope) categoriesAll(ctx context.Context, req *router.Request) error {
	if _, err := sc.s.Gate.SaveAll(ctx); err != nil {
		return err
	}
	return sc.replyGate(ctx, req, "💾 saved every category")
}

func (sc *scope) categoriesReset(ctx context.Context, req *router.Request) error {
	if err := sc.s.Gate.Reset(ctx); err != nil {
		return err
	}
	return sc.replyGate(ctx, req, "🗑 selection deleted")
}

// replySelector renders a family with one button per task and a run button.
func (sc *scope) replySelector(ctx context.Context, req *router.Request, f gate.Family, prefix string) error {
	sel := sc.selector(f)
	text := renderSelector(sel, sc.s.Gate.Check(f))
	if prefix != "" {
		text = prefix + "\n" + text
	}
	var rows [][]kit.Button
	var row []kit.Button
	for _, t := range sel.Tasks() {
		row = append(row, button(t.Key, string(f)+":pick:"+t.Key))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if sel.State().Key != "" {
		rows = append(rows, []kit.Button{button("▶️ Run "+sel.State().Key, string(f)+":run")})
	}
	return req.ReplyHTML(ctx, text, rows...)
}

func familyList(f gate.Family) sessionHandler {
	return func(sc *scope, ctx context.Context, req *router.Request) error {
		return sc.replySelector(ctx, req, f, "")
	}
}

func familyPick(f gate.Family) sessionHandler {
	return func(sc *scope, ctx context.Context, req *router.Request) error {
		if len(req.Args) != 1 {
			return usageError("/" + string(f) + " pick <key>")
		}
		return sc.pick(ctx, req, f, req.Args[0])
	}
}

func (sc *scope) pick(ctx context.Context, req *router.Request, f gate.Family, key string) error {
	if _, err := sc.selector(f).Select(key); err != nil {
		return err
	}
	return sc.replySelector(ctx, req, f, "")
}

func familyClear(f gate.Family) sessionHandler {
	return func(sc *scope, ctx context.Context, req *router.Request) error {
		if _, err := sc.selector(f).Clear(); err != nil {
			return err
		}
		return sc.replySelector(ctx, req, f, "")
	}
}

func familyRun(f gate.Family) sessionHandler {
	return func(sc *scope, ctx context.Context, req *router.Request) error {
		return sc.run(ctx, req, f)
	}
}

// run announces the task, waits for it and reports the outcome.
func (sc *scope) run(ctx context.Context, req *router.Request, f gate.Family) error {
	sel := sc.selector(f)
	key := sel.State().Key
	if key == "" {
		return selector.ErrNoSelection
	}
	if d := sc.s.Gate.Check(f); !d.Allowed {
		return &selector.DeniedError{Family: f, Reason: d.Reason}
	}
	_ = req.ReplyHTML(ctx, "⏳ running "+escape(string(f))+" <code>"+escape(key)+"</code>")
	st, err := sel.Run(ctx)
	if err != nil {
		return err
	}
	msg := st.Message
	if msg == "" {
		msg = "done"
	}
	return req.ReplyHTML(ctx, "✅ "+escape(string(f))+" <code>"+escape(key)+"</code>: "+escape(msg))
}

func cbPick(f gate.Family) callbackHandler {
	return func(sc *scope, ctx context.Context, req *router.Request, payload string) error {
		return sc.pick(ctx, req, f, payload)
	}
}

func cbRun(f gate.Family) callbackHandler {
	return func(sc *scope, ctx context.Context, req *router.Request, _ string) error {
		return sc.run(ctx, req, f)
	}
}
