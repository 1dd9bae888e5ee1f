package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("30s", "1m", "24h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Calendar CalendarConfig `json:"calendar"`
	Reminder ReminderConfig `json:"reminder"`
	Announce AnnounceConfig `json:"announce"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Ops      OpsConfig      `json:"ops"`
}

type TelegramConfig struct {
	// Token may be left empty when TELEGRAM_BOT_TOKEN is set.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives forwarded log lines.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps reminder sends; default 1.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// CalendarConfig selects the event source.
//
// Example:
//
//	"calendar": { "driver": "google", "calendar_id": "team@group.calendar.google.com",
//	              "credentials_file": "./service-account.json" }
type CalendarConfig struct {
	Driver          string `json:"driver"` // "google" (default) | "file"
	CalendarID      string `json:"calendar_id,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
	APIKey          string `json:"api_key,omitempty"`
	Path            string `json:"path,omitempty"` // file driver
	Timeout         string `json:"timeout,omitempty"`
}

// ReminderConfig controls the notification engine. Changes need a restart.
//
// Defaults:
//   - thresholds: ["8h", "3h", "1h", "now"]
//   - tick_interval: "1m"
//   - lookahead: "24h"
//   - timezone: "UTC"
//   - mention: "@here"
//   - mark_failed_as_sent: true
type ReminderConfig struct {
	Thresholds       []string `json:"thresholds,omitempty"`
	TickInterval     string   `json:"tick_interval,omitempty"`
	Lookahead        string   `json:"lookahead,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	Mention          *string  `json:"mention,omitempty"`
	MarkFailedAsSent *bool    `json:"mark_failed_as_sent,omitempty"`
}

// AnnounceConfig controls the startup announcement. Enabled is a pointer
// so an omitted section means enabled.
type AnnounceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Grace   string `json:"grace,omitempty"`
}

// StorageConfig controls the delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/calnotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OpsConfig controls the HTTP server with /healthz, /metrics, /status and
// optionally /debug/pprof.
// Bind to localhost unless a proxy fronts it.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9464"
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool `json:"pprof,omitempty"`
}
