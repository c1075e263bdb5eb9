package app

import (
	"fmt"
	"strings"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/config"
	"opsconsole/internal/console"
	"opsconsole/internal/console/schedule"
	"opsconsole/internal/console/webhook"
	"opsconsole/internal/storage"
	telegram "opsconsole/internal/transport/telegram/adapter"
	logx "opsconsole/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapBackend(cfg *config.Config) (backend.Config, error) {
	timeout, err := config.ParseDurationOrDefault("backend.timeout", cfg.Backend.Timeout, config.DefaultBackendTimeout)
	if err != nil {
		return backend.Config{}, err
	}
	return backend.Config{
		APIBase:    cfg.Backend.APIBase,
		OpsBase:    cfg.Backend.OpsBase,
		Timeout:    timeout,
		RatePerSec: cfg.Backend.RatePerSec,
		UserAgent:  cfg.Backend.UserAgent,
	}, nil
}

func mapConsole(cfg *config.Config) (console.Options, error) {
	poll, err := config.ParseDurationOrDefault("console.poll_interval", cfg.Console.PollInterval, config.DefaultPollInterval)
	if err != nil {
		return console.Options{}, err
	}
	auto, err := config.ParseDurationField("console.log_auto_refresh", cfg.Console.LogAutoRefresh)
	if err != nil {
		return console.Options{}, err
	}
	tz := strings.TrimSpace(cfg.Console.Timezone)
	if tz == "" {
		tz = config.DefaultTimezone
	}
	return console.Options{
		PollInterval:   poll,
		LogThreshold:   cfg.Console.LogFollowThreshold,
		LogAutoRefresh: auto,
		Zone:           schedule.LoadZone(tz),
	}, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, nil
}

func mapWebhook(cfg *config.Config) (webhook.ServerConfig, error) {
	w := cfg.Webhook
	out := webhook.ServerConfig{
		Enabled:       w.Enabled,
		Addr:          strings.TrimSpace(w.Addr),
		Path:          w.Path,
		Token:         w.Token,
		AllowInsecure: w.AllowInsecure,
		Profiling:     w.Profiling,
	}
	if out.Addr == "" {
		out.Addr = config.DefaultWebhookAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("webhook.read_timeout", w.ReadTimeout, 10*time.Second); err != nil {
		return webhook.ServerConfig{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("webhook.write_timeout", w.WriteTimeout, 10*time.Second); err != nil {
		return webhook.ServerConfig{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("webhook.idle_timeout", w.IdleTimeout, 60*time.Second); err != nil {
		return webhook.ServerConfig{}, err
	}
	return out, nil
}

func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, config.DefaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}
