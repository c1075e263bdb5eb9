package commands

import (
	"context"
	"errors"
	"strconv"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/console/metrics"
	"opsconsole/internal/console/schedule"
	"opsconsole/internal/console/settings"
	"opsconsole/internal/console/webhook"
)

func (a *AppContext) printSchedule(cfg schedule.Config) {
	a.printf("scheduler: %s", onOff(a.Session.Scheduler.Running()))
	if cfg.Timezone != "" {
		a.printf(" (server zone %s)", cfg.Timezone)
	}
	a.printf("\n")
	for _, n := range cfg.Names() {
		e, _ := cfg.Job(n)
		a.printf("  %-6s hour=%-5s minute=%-5s next=%s\n", n, e.Hour, e.Minute, schedule.FormatNextRun(e.NextRunTime, a.Session.Zone))
	}
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

func schedShowAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	_, serr := a.Session.Scheduler.Refresh(ctx)
	cfg, err := a.Session.Schedule.Load(ctx)
	if err != nil {
		return errors.Join(serr, err)
	}
	a.printSchedule(cfg)
	return serr
}

func schedSetAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	e := schedule.Edit{
		Job:    schedule.JobName(cmd.Args().First()),
		Hour:   cmd.String("hour"),
		Minute: cmd.String("minute"),
	}
	if _, err := a.Session.Scheduler.Refresh(ctx); err != nil {
		a.Log.Warn("scheduler status unavailable")
	}
	cfg, err := a.Session.Schedule.Save(ctx, e)
	if err != nil {
		return err
	}
	a.printSchedule(cfg)
	return nil
}

func schedRunAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	msg, err := a.Session.Schedule.RunNow(ctx, schedule.JobName(cmd.Args().First()))
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "triggered"))
	return nil
}

func schedSwitchAction(on bool) func(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	return func(ctx context.Context, cmd *cli.Command, a *AppContext) error {
		var err error
		if on {
			err = a.Session.Scheduler.On(ctx)
		} else {
			err = a.Session.Scheduler.Off(ctx)
		}
		if err != nil {
			return err
		}
		a.printf("scheduler: %s\n", onOff(a.Session.Scheduler.Running()))
		return nil
	}
}

func envShowAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	env := a.Session.Settings.Get(ctx)
	for _, k := range []string{settings.KeyStartPage, settings.KeyEndPage, settings.KeyEmbServer} {
		a.printf("%s=%s\n", k, env[k])
	}
	return nil
}

func envPagesAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	start, err1 := strconv.Atoi(cmd.Args().Get(0))
	end, err2 := strconv.Atoi(cmd.Args().Get(1))
	if err := errors.Join(err1, err2); err != nil {
		return errors.New("usage: env pages <start> <end>")
	}
	msg, err := a.Session.Settings.SavePageRange(ctx, start, end)
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "saved"))
	return nil
}

func envEmbAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	msg, err := a.Session.Settings.SaveEmbeddingServer(ctx, cmd.Args().First())
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "saved"))
	return nil
}

func envPushAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	msg, err := a.Session.Settings.PushFile(ctx, cmd.String("file"))
	if err != nil {
		return err
	}
	a.printf("%s\n", orDefault(msg, "saved"))
	return nil
}

func webhookRegisterAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	msg, err := webhook.Register(ctx, a.Session.Backend, cmd.Args().First())
	if err != nil {
		return err
	}
	a.printf("%s\n", msg)
	return nil
}

func metricsAction(ctx context.Context, cmd *cli.Command, a *AppContext) error {
	f, err := metrics.ParseFilter(cmd.String("filter"))
	if err != nil {
		return err
	}
	rep, err := metrics.Counts(ctx, a.Session.Backend, f)
	if err != nil {
		return err
	}
	a.printf("%s", rep.Format())
	if path := cmd.String("png"); path != "" {
		png, err := metrics.Pie(ctx, a.Session.Backend, f)
		if err != nil {
			return err
		}
		if err := writeFile(path, png); err != nil {
			return err
		}
		a.printf("chart written to %s\n", path)
	}
	return nil
}
