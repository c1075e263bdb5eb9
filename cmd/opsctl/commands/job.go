package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/console/job"
	"opsconsole/internal/console/logstream"
	"opsconsole/internal/eventbus"
)

func (a *AppContext) printStatus(st job.JobStatus) {
	a.printf("state: %s", st.State)
	if st.Predicted {
		a.printf(" (pending confirmation)")
	}
	if st.Total > 0 {
		a.printf("  %d%% (%d/%d)", st.Percent(), st.Progress, st.Total)
	}
	if st.CancelRequested {
		a.printf("  cancel requested")
	}
	a.printf("\n")
	for _, it := range st.Recent(5) {
		a.printf("  %-8s %s %s\n", it.Outcome, it.ID, it.Label)
	}
}

// waitTerminal prints each authoritative status until the job settles.
func (a *AppContext) waitTerminal(ctx context.Context) (job.JobStatus, error) {
	events, unsub := a.Session.Bus.Subscribe(16, eventbus.JobStatus)
	defer unsub()
	st := a.Session.Poller.Status()
	if st.Terminal() && !st.Predicted {
		return st, nil
	}
	a.Session.Poller.Start()
	for {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case e := <-events:
			next, ok := e.Data.(job.JobStatus)
			if !ok || next.Predicted {
				continue
			}
			st = next
			a.printStatus(st)
			if st.Terminal() {
				return st, nil
			}
		}
	}
}

func statusAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	st, err := a.Session.Poller.Sync(ctx)
	if err != nil {
		return err
	}
	a.printStatus(st)
	if !cmd.Bool("watch") || !st.Running {
		return nil
	}
	_, err = a.waitTerminal(ctx)
	return err
}

func indexStartAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if _, err := a.Session.Poller.Sync(ctx); err != nil {
		return err
	}
	act, err := a.Session.Jobs.StartJob(ctx)
	if err != nil {
		return err
	}
	a.printf("start: %s\n", orDefault(act.Message, "ok"))
	if !cmd.Bool("wait") {
		return nil
	}
	st, err := a.waitTerminal(ctx)
	if err != nil {
		return err
	}
	if st.State != job.StateCompleted {
		return fmt.Errorf("job ended %s", st.State)
	}
	return nil
}

func indexStopAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if _, err := a.Session.Poller.Sync(ctx); err != nil {
		return err
	}
	act, err := a.Session.Jobs.StopJob(ctx)
	if err != nil {
		return err
	}
	a.printf("stop: %s\n", orDefault(act.Message, "ok"))
	a.printStatus(a.Session.Poller.Status())
	return nil
}

func logsAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	logs := a.Session.Logs
	if _, err := logs.Refresh(ctx); err != nil {
		return err
	}
	lines := logs.Lines()
	if n := cmd.Int("tail"); n > 0 {
		lines = logs.Tail(int(n))
	}
	for _, l := range lines {
		a.printf("%s\n", l)
	}
	if dir := cmd.String("save"); dir != "" {
		path, err := logs.SaveFile(dir)
		if err != nil {
			return err
		}
		a.Log.Info("log saved to " + path)
	}
	if !cmd.Bool("follow") {
		return nil
	}

	interval := cmd.Duration("interval")
	if interval <= 0 {
		interval = logstream.AutoRefreshChoices[1]
	}
	events, unsub := a.Session.Bus.Subscribe(16, eventbus.LogsUpdated)
	defer unsub()
	seen := logs.Lines()
	logs.SetAutoRefresh(interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			u, ok := e.Data.(logstream.Update)
			if !ok {
				continue
			}
			for _, l := range appended(seen, u.Lines) {
				a.printf("%s\n", l)
			}
			seen = u.Lines
		}
	}
}

// appended returns the lines of cur past its overlap with the end of prev.
func appended(prev, cur []string) []string {
	for k := min(len(prev), len(cur)); k > 0; k-- {
		if slices.Equal(prev[len(prev)-k:], cur[:k]) {
			return cur[k:]
		}
	}
	return cur
}

func logsClearAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	if err := a.Session.Logs.Clear(ctx); err != nil {
		return err
	}
	a.printf("log cleared\n")
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
