package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBackendTimeout = 15 * time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultLogTail        = 20
	DefaultTimezone       = "Asia/Seoul"
	DefaultWebhookAddr    = "127.0.0.1:8089"
	DefaultSQLiteBusy     = time.Second
)

// Validate checks everything that can be checked without network access.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(checkBase("backend.api_base", cfg.Backend.APIBase))
	add(checkBase("backend.ops_base", cfg.Backend.OpsBase))
	_, err := ParseDurationField("backend.timeout", cfg.Backend.Timeout)
	add(err)
	if cfg.Backend.RatePerSec < 0 {
		add(errors.New("backend.rate_per_sec must be >= 0"))
	}

	_, err = ParseDurationField("console.poll_interval", cfg.Console.PollInterval)
	add(err)
	auto, err := ParseDurationField("console.log_auto_refresh", cfg.Console.LogAutoRefresh)
	add(err)
	if err == nil && !validAutoRefresh(auto) {
		add(fmt.Errorf("console.log_auto_refresh must be one of 0s, 3s, 5s, 10s (got %s)", auto))
	}
	if cfg.Console.LogFollowThreshold < 0 || cfg.Console.LogTail < 0 {
		add(errors.New("console.log_follow_threshold and console.log_tail must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Console.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("console.timezone: %w", err))
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			add(errors.New("telegram.token is required when telegram.enabled"))
		}
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			add(errors.New("telegram.owner_user_ids must not be empty"))
		}
	}
	_, err = ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)
	if cfg.Logging.Chat.Enabled && cfg.Telegram.LogChatID == 0 {
		add(errors.New("logging.chat requires telegram.log_chat_id"))
	}

	add(validateWebhook(cfg.Webhook))
	add(validateStorage(cfg.Storage))
	return errors.Join(errs...)
}

func checkBase(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fmt.Errorf("%s is required", path)
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: want an absolute http(s) URL, got %q", path, raw)
	}
	return nil
}

func validAutoRefresh(d time.Duration) bool {
	switch d {
	case 0, 3 * time.Second, 5 * time.Second, 10 * time.Second:
		return true
	}
	return false
}

func validateWebhook(w WebhookConfig) error {
	for path, raw := range map[string]string{
		"webhook.read_timeout":  w.ReadTimeout,
		"webhook.write_timeout": w.WriteTimeout,
		"webhook.idle_timeout":  w.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	if pu := strings.TrimSpace(w.PublicURL); pu != "" {
		u, err := url.Parse(pu)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook.public_url: want an http(s) URL, got %q", pu)
		}
	}
	return nil
}

func validateStorage(sc *StorageConfig) error {
	if sc == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "", "none":
		return nil
	case "file":
		if strings.TrimSpace(sc.Path) == "" {
			return errors.New("storage.path is required when storage.driver=file")
		}
	case "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
		if _, err := ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return nil
}
