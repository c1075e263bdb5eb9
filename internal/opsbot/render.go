package opsbot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/gate"
	"opsconsole/internal/console/job"
	"opsconsole/internal/console/metrics"
	"opsconsole/internal/console/schedule"
	"opsconsole/internal/console/search"
	"opsconsole/internal/console/selector"
	"opsconsole/internal/console/settings"
	"opsconsole/internal/storage"
)

func escape(s string) string { return html.EscapeString(s) }

func progressBar(pct, width int) string {
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func stateIcon(s job.State) string {
	switch s {
	case job.StateRunning:
		return "🔄"
	case job.StateCompleted:
		return "✅"
	case job.StateFailed:
		return "❌"
	case job.StateStopped:
		return "⏹"
	default:
		return "💤"
	}
}

func renderStatus(st job.JobStatus, polling bool, loc *time.Location, recent int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Indexing</b>: %s", stateIcon(st.State), escape(string(st.State)))
	if st.Predicted {
		b.WriteString(" <i>(pending confirmation)</i>")
	}
	b.WriteByte('\n')
	if st.Total > 0 {
		fmt.Fprintf(&b, "<code>%s</code> %d%% (%d/%d)\n", progressBar(st.Percent(), 20), st.Percent(), st.Progress, st.Total)
	}
	if st.CancelRequested {
		b.WriteString("cancel requested\n")
	}
	poll := "off"
	if polling {
		poll = "on"
	}
	fmt.Fprintf(&b, "polling: %s", poll)
	if !st.FetchedAt.IsZero() {
		fmt.Fprintf(&b, ", updated %s", st.FetchedAt.In(loc).Format("15:04:05"))
	}
	if items := st.Recent(recent); len(items) > 0 {
		b.WriteString("\n\n<b>Recent items</b>")
		for _, it := range items {
			fmt.Fprintf(&b, "\n%s <code>%s</code> %s", outcomeIcon(it.Outcome), escape(it.ID), escape(it.Label))
		}
	}
	return b.String()
}

func outcomeIcon(o job.Outcome) string {
	switch o {
	case job.OutcomeSuccess:
		return "✔"
	case job.OutcomeFailed:
		return "✖"
	default:
		return "•"
	}
}

func renderTerminal(st job.JobStatus) string {
	s := fmt.Sprintf("%s indexing %s", stateIcon(st.State), st.State)
	if st.Total > 0 {
		s += fmt.Sprintf(" at %d%% (%d/%d)", st.Percent(), st.Progress, st.Total)
	}
	return escape(s)
}

func renderAction(a job.Action) string {
	switch a.Phase {
	case job.PhaseConfirmed:
		msg := a.Message
		if msg == "" {
			msg = "ok"
		}
		return fmt.Sprintf("%s %s: %s", stateIcon(a.Predicted.State), a.Intent, msg)
	default:
		return fmt.Sprintf("%s %s", a.Intent, a.Phase)
	}
}

func renderLogLines(lines []string) string {
	if len(lines) == 0 {
		return "<i>log is empty</i>"
	}
	return "<pre>" + escape(strings.Join(lines, "\n")) + "</pre>"
}

func onOff(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "on"
	default:
		return "off"
	}
}

func renderGate(st gate.State, cat gate.Catalog) string {
	var b strings.Builder
	saved := "not saved"
	if st.Persisted {
		saved = "saved"
	}
	cancelled := "unknown"
	if st.Cancelled != nil {
		cancelled = map[bool]string{true: "cancelled", false: "active"}[*st.Cancelled]
	}
	fmt.Fprintf(&b, "<b>Categories</b> (%s), tasks: %s\n", saved, cancelled)
	selected := map[string]bool{}
	for _, n := range st.Selected {
		selected[n] = true
	}
	for _, c := range cat {
		mark := "▫️"
		if selected[c.Name] {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, escape(c.Name))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSelector(sel *selector.Selector, d gate.Decision) string {
	st := sel.State()
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s tasks</b>", escape(string(sel.Family())))
	if !d.Allowed {
		fmt.Fprintf(&b, " 🔒 <i>%s</i>", escape(d.Reason))
	}
	for _, t := range sel.Tasks() {
		mark := "○"
		if t.Key == st.Key {
			mark = "●"
		}
		fmt.Fprintf(&b, "\n%s <code>%s</code> %s", mark, escape(t.Key), escape(t.Label))
	}
	fmt.Fprintf(&b, "\nstate: %s", st.Phase)
	if st.Message != "" {
		fmt.Fprintf(&b, " (%s)", escape(st.Message))
	}
	return b.String()
}

func renderSchedule(cfg schedule.Config, running *bool, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Scheduler</b>: %s", onOff(running))
	if cfg.Timezone != "" {
		fmt.Fprintf(&b, " (server zone %s)", escape(cfg.Timezone))
	}
	names := cfg.Names()
	if len(names) == 0 {
		b.WriteString("\n<i>no jobs</i>")
	}
	for _, n := range names {
		e, _ := cfg.Job(n)
		fmt.Fprintf(&b, "\n<code>%-6s</code> hour=%s minute=%s next=%s",
			escape(string(n)), escape(orDash(e.Hour.String())), escape(orDash(e.Minute.String())),
			escape(schedule.FormatNextRun(e.NextRunTime, loc)))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderEnv(env map[string]string) string {
	if len(env) == 0 {
		return "<i>backend settings unavailable</i>"
	}
	keys := []string{settings.KeyStartPage, settings.KeyEndPage, settings.KeyEmbServer}
	var b strings.Builder
	b.WriteString("<b>Backend settings</b>")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n<code>%s</code> = %s", k, escape(orDash(env[k])))
	}
	return b.String()
}

func renderMetrics(rep metrics.Report) string {
	return "<pre>" + escape(rep.Format()) + "</pre>"
}

func renderResults(results []search.Result, w *search.HistoryWindow, shown int) string {
	if len(results) == 0 {
		return "<i>no results</i>"
	}
	var b strings.Builder
	for i, r := range results {
		if i >= shown {
			fmt.Fprintf(&b, "\n… %d more", len(results)-shown)
			break
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<b>%d. %s</b>\n", i+1, escape(r.Name))
		fmt.Fprintf(&b, "id <code>%s</code> · %s · %s · score %.3f",
			escape(r.ID), escape(orDash(r.Category)), escape(search.FormatPrice(r.Price)), r.Score)
		if r.OutOfStock != "" && r.OutOfStock != "0" && !strings.EqualFold(r.OutOfStock, "false") {
			b.WriteString(" · out of stock")
		}
		b.WriteString(renderHistory(w.Visible(r), len(r.History)))
	}
	return b.String()
}

func renderHistory(rows []backend.PricePoint, total int) string {
	if total == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range rows {
		fmt.Fprintf(&b, "\n  %s  %s", escape(orDash(string(p.LastUpdated))), escape(orDash(string(p.SellingPrice))))
	}
	if len(rows) < total {
		fmt.Fprintf(&b, "\n  (%d of %d)", len(rows), total)
	}
	return b.String()
}

func renderPrefs(history, step int, auto time.Duration) string {
	a := "off"
	if auto > 0 {
		a = auto.String()
	}
	return fmt.Sprintf("<b>Preferences</b>\nprice history shown: %d (max %d)\n\"more\" step: %d\nlog auto-refresh: %s",
		history, storage.MaxHistoryWindow, step, a)
}
