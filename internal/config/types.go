package config

// Config is the opsconsole daemon configuration. Files may be JSON or YAML;
// unknown keys are rejected. Durations are Go duration strings ("3s", "1m").
type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Console  ConsoleConfig  `json:"console"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Webhook  WebhookConfig  `json:"webhook"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// BackendConfig points at the pipeline backend. APIBase serves /index/*,
// OpsBase everything else.
type BackendConfig struct {
	APIBase    string  `json:"api_base"`
	OpsBase    string  `json:"ops_base"`
	Timeout    string  `json:"timeout,omitempty"`      // default 15s
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // 0 = unlimited
	UserAgent  string  `json:"user_agent,omitempty"`
}

type ConsoleConfig struct {
	PollInterval string `json:"poll_interval,omitempty"` // default 3s
	// LogFollowThreshold is the bottom distance (px) under which the log view
	// keeps following new lines.
	LogFollowThreshold int    `json:"log_follow_threshold,omitempty"`
	LogAutoRefresh     string `json:"log_auto_refresh,omitempty"` // 0s, 3s, 5s or 10s
	LogTail            int    `json:"log_tail,omitempty"`         // lines pushed to chat
	Timezone           string `json:"timezone,omitempty"`         // schedule display zone
	ExportDir          string `json:"export_dir,omitempty"`       // log exports
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	LogChatID    int64   `json:"log_chat_id,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards records to telegram.log_chat_id.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WebhookConfig controls the completion webhook receiver.
//
// Binding to a non-loopback address requires a token or allow_insecure.
type WebhookConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:8089
	Path          string `json:"path,omitempty"` // default /hook
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	// PublicURL, when set, is registered with the backend at startup.
	PublicURL    string `json:"public_url,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
	// Profiling mounts net/http/pprof under /debug behind the token.
	Profiling bool `json:"profiling,omitempty"`
}

// StorageConfig controls prefs persistence.
//
//	"storage": { "driver": "file", "path": "./state/prefs.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}
