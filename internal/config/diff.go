package config

import (
	"reflect"
	"sort"
	"strings"

	logx "opsconsole/pkg/logx"
)

// Summarize lists the changed top-level sections and safe log fields for
// them. Tokens are never included.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Backend != newCfg.Backend {
		changed = append(changed, "backend")
		attrs = append(attrs,
			logx.String("backend.api_base", newCfg.Backend.APIBase),
			logx.String("backend.ops_base", newCfg.Backend.OpsBase),
			logx.Float64("backend.rate_per_sec", newCfg.Backend.RatePerSec),
		)
	}
	if oldCfg.Console != newCfg.Console {
		changed = append(changed, "console")
		attrs = append(attrs,
			logx.String("console.poll_interval", newCfg.Console.PollInterval),
			logx.String("console.log_auto_refresh", newCfg.Console.LogAutoRefresh),
		)
	}
	if oldCfg.Telegram.Enabled != newCfg.Telegram.Enabled ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.LogChatID != newCfg.Telegram.LogChatID ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Webhook != newCfg.Webhook {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.enabled", newCfg.Webhook.Enabled),
			logx.String("webhook.addr", strings.TrimSpace(newCfg.Webhook.Addr)),
			logx.Bool("webhook.token_set", strings.TrimSpace(newCfg.Webhook.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}

	sort.Strings(changed)
	return changed, attrs
}
