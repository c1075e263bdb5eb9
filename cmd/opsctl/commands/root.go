package commands

import (
	"time"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/console/gate"
)

func topFlag() cli.Flag {
	return &cli.IntFlag{Name: "top", Usage: "number of results (10, 20 or 30)", Value: 30}
}

func csvFlag() cli.Flag {
	return &cli.StringFlag{Name: "csv", Usage: "write each result's price history to DIR"}
}

// Root returns the opsctl command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:  "opsctl",
		Usage: "operate the product indexing backend from a shell",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "daemon config file to read backend settings from"},
			&cli.StringFlag{Name: "api", Usage: "indexing API base URL", Sources: cli.EnvVars("OPSCTL_API_BASE")},
			&cli.StringFlag{Name: "ops", Usage: "operations API base URL", Sources: cli.EnvVars("OPSCTL_OPS_BASE")},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", Value: "warn"},
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show the indexing job status",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Usage: "poll until the job reaches a terminal state"},
					&cli.DurationFlag{Name: "interval", Usage: "poll interval", Value: 3 * time.Second},
				},
				Action: withSession(statusAction),
			},
			{
				Name:  "index",
				Usage: "start or stop the indexing job",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "start indexing",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "wait", Usage: "wait until the job finishes"},
							&cli.DurationFlag{Name: "interval", Usage: "poll interval", Value: 3 * time.Second},
						},
						Action: withSession(indexStartAction),
					},
					{Name: "stop", Usage: "stop indexing", Action: withSession(indexStopAction)},
				},
			},
			{
				Name:  "logs",
				Usage: "show the indexing log",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "tail", Usage: "number of lines to print", Value: 20},
					&cli.BoolFlag{Name: "follow", Usage: "keep printing new lines"},
					&cli.DurationFlag{Name: "interval", Usage: "refresh interval while following", Value: 3 * time.Second},
					&cli.StringFlag{Name: "save", Usage: "save the log buffer to a file in DIR"},
				},
				Action: withSession(logsAction),
				Commands: []*cli.Command{
					{Name: "clear", Usage: "delete the backend log", Action: withSession(logsClearAction)},
				},
			},
			{
				Name:  "tasks",
				Usage: "scrape/upload cancellation flag",
				Commands: []*cli.Command{
					{Name: "status", Usage: "show whether tasks are cancelled", Action: withSession(tasksStatusAction)},
					{Name: "stop", Usage: "cancel running and future tasks", Action: withSession(tasksStopAction)},
					{Name: "resume", Usage: "allow tasks to run again", Action: withSession(tasksResumeAction)},
				},
			},
			{
				Name:    "categories",
				Aliases: []string{"cats"},
				Usage:   "category selection for scrape tasks",
				Commands: []*cli.Command{
					{Name: "show", Usage: "list categories and the saved selection", Action: withSession(categoriesShowAction)},
					{
						Name:      "save",
						Usage:     "save the given categories",
						ArgsUsage: "<name>...",
						Flags:     []cli.Flag{&cli.BoolFlag{Name: "all", Usage: "select every category"}},
						Action:    withSession(categoriesSaveAction),
					},
					{Name: "reset", Usage: "delete the saved selection", Action: withSession(categoriesResetAction)},
				},
			},
			{
				Name:  "run",
				Usage: "run a scrape or upload task",
				Commands: []*cli.Command{
					{Name: "scrape", ArgsUsage: "<all|price|nonprice|image>", Action: withSession(runAction(gate.FamilyScrape))},
					{Name: "upload", ArgsUsage: "<all|price|other>", Action: withSession(runAction(gate.FamilyUpload))},
				},
			},
			{
				Name:  "sched",
				Usage: "backend scheduler",
				Commands: []*cli.Command{
					{Name: "show", Usage: "show jobs and next run times", Action: withSession(schedShowAction)},
					{
						Name:      "set",
						Usage:     "change a job's hour/minute",
						ArgsUsage: "<all|price|old>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "hour", Usage: "0-23 or a cron pattern"},
							&cli.StringFlag{Name: "minute", Usage: "0-59 or a cron pattern"},
						},
						Action: withSession(schedSetAction),
					},
					{Name: "run", Usage: "run a job now", ArgsUsage: "<all|price|old>", Action: withSession(schedRunAction)},
					{Name: "on", Usage: "start the scheduler", Action: withSession(schedSwitchAction(true))},
					{Name: "off", Usage: "pause the scheduler", Action: withSession(schedSwitchAction(false))},
				},
			},
			{
				Name:  "env",
				Usage: "backend runtime settings",
				Commands: []*cli.Command{
					{Name: "show", Usage: "show settings", Action: withSession(envShowAction)},
					{Name: "pages", Usage: "set the scrape page range", ArgsUsage: "<start> <end>", Action: withSession(envPagesAction)},
					{Name: "emb", Usage: "set the embedding server URL", ArgsUsage: "<url>", Action: withSession(envEmbAction)},
					{
						Name:   "push",
						Usage:  "send settings from a dotenv file",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "file", Usage: "dotenv file", Required: true}},
						Action: withSession(envPushAction),
					},
				},
			},
			{
				Name:  "webhook",
				Usage: "completion webhook",
				Commands: []*cli.Command{
					{Name: "register", Usage: "register the URL the backend calls on completion", ArgsUsage: "<url>", Action: withSession(webhookRegisterAction)},
				},
			},
			{
				Name:  "metrics",
				Usage: "per-category product counts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Usage: "D (embedded) or R (pending)"},
					&cli.StringFlag{Name: "png", Usage: "also write the pie chart to FILE"},
				},
				Action: withSession(metricsAction),
			},
			{
				Name:  "search",
				Usage: "product search",
				Commands: []*cli.Command{
					{
						Name:      "text",
						ArgsUsage: "<query>",
						Flags:     []cli.Flag{topFlag(), csvFlag()},
						Action:    withSession(searchTextAction),
					},
					{
						Name:   "image",
						Flags:  []cli.Flag{&cli.StringFlag{Name: "file", Usage: "query image", Required: true}, topFlag(), csvFlag()},
						Action: withSession(searchImageAction),
					},
					{
						Name:      "multi",
						ArgsUsage: "<query>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Usage: "query image", Required: true},
							&cli.FloatFlag{Name: "alpha", Usage: "text weight between 0 and 1", Value: 0.7},
							topFlag(),
							csvFlag(),
						},
						Action: withSession(searchMultiAction),
					},
				},
			},
		},
	}
}
