// Package commands implements the opsctl subcommands. Each run builds one
// console session against the backend and exits.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"opsconsole/internal/backend"
	"opsconsole/internal/config"
	"opsconsole/internal/console"
	"opsconsole/internal/storage"
	logx "opsconsole/pkg/logx"
)

// AppContext is what every action works with.
type AppContext struct {
	Session *console.Session
	Log     logx.Logger
	Out     io.Writer

	store storage.Store
}

func (a *AppContext) Close() {
	a.Session.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
}

func out(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// NewAppContext resolves the backend from --config and the --api/--ops
// overrides. Nothing is fetched yet.
func NewAppContext(ctx context.Context, cmd *cli.Command) (*AppContext, error) {
	log := logx.NewConsole(os.Stderr, cmd.String("log-level")).With(logx.Comp("opsctl"))

	var (
		bcfg  backend.Config
		copts console.Options
		store storage.Store
	)
	if path := strings.TrimSpace(cmd.String("config")); path != "" {
		cfg, err := config.NewManager(path).Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		timeout, err := config.ParseDurationOrDefault("backend.timeout", cfg.Backend.Timeout, config.DefaultBackendTimeout)
		if err != nil {
			return nil, err
		}
		bcfg = backend.Config{
			APIBase:    cfg.Backend.APIBase,
			OpsBase:    cfg.Backend.OpsBase,
			Timeout:    timeout,
			RatePerSec: cfg.Backend.RatePerSec,
			UserAgent:  cfg.Backend.UserAgent,
		}
		if cfg.Storage != nil && cfg.Storage.Driver != "" {
			st, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}, log)
			if err != nil {
				return nil, err
			}
			store = st
		}
	}
	if v := strings.TrimSpace(cmd.String("api")); v != "" {
		bcfg.APIBase = v
	}
	if v := strings.TrimSpace(cmd.String("ops")); v != "" {
		bcfg.OpsBase = v
	}
	if bcfg.APIBase == "" || bcfg.OpsBase == "" {
		if store != nil {
			_ = store.Close()
		}
		return nil, errors.New("backend not configured: pass --config or --api and --ops")
	}
	if bcfg.UserAgent == "" {
		bcfg.UserAgent = "opsctl"
	}

	client := backend.New(bcfg, backend.WithLogger(log.With(logx.Comp("backend"))))
	copts.Logger = log
	copts.Prefs = storage.NewPrefs(store, "cli")
	if d := cmd.Duration("interval"); d > 0 {
		copts.PollInterval = d
	}
	return &AppContext{
		Session: console.New(ctx, "cli", client, copts),
		Log:     log,
		Out:     out(cmd),
		store:   store,
	}, nil
}

// withSession wraps an action that needs an AppContext.
func withSession(fn func(ctx context.Context, cmd *cli.Command, a *AppContext) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := NewAppContext(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}

func (a *AppContext) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}
