package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"calnotify/internal/calendar"
	"calnotify/internal/config"
	"calnotify/internal/delivery"
	"calnotify/internal/ops"
	"calnotify/internal/reminder"
	"calnotify/internal/storage"
	kit "calnotify/internal/transport"
	logx "calnotify/pkg/logx"
)

const (
	defaultMention      = "@here"
	defaultTickInterval = time.Minute
	defaultFetchTimeout = 20 * time.Second
	defaultPollTimeout  = 10 * time.Second
)

var ErrNoToken = errors.New("telegram token is required (telegram.token or " + config.EnvBotToken + ")")

// reminderSettings is the mapped reminder section.
type reminderSettings struct {
	Engine   reminder.Config
	Interval time.Duration
	Renderer reminder.Renderer
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// parseGroupLog returns the log chat id; empty means none.
func parseGroupLog(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return id, nil
}

func mapToken(cfg *config.Config, env config.Env) (string, error) {
	if env.BotToken != "" {
		return env.BotToken, nil
	}
	if t := strings.TrimSpace(cfg.Telegram.Token); t != "" {
		return t, nil
	}
	return "", ErrNoToken
}

func mapCalendarConfig(cfg *config.Config) (calendar.Config, error) {
	c := cfg.Calendar
	timeout, err := config.ParseDurationOrDefault("calendar.timeout", c.Timeout, defaultFetchTimeout)
	if err != nil {
		return calendar.Config{}, err
	}
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	switch driver {
	case "", "google":
		if strings.TrimSpace(c.CalendarID) == "" {
			return calendar.Config{}, errors.New("calendar.calendar_id is required for the google driver")
		}
		if strings.TrimSpace(c.CredentialsFile) == "" && strings.TrimSpace(c.APIKey) == "" {
			return calendar.Config{}, errors.New("calendar: credentials_file or api_key is required for the google driver")
		}
		driver = "google"
	case "file":
		if strings.TrimSpace(c.Path) == "" {
			return calendar.Config{}, errors.New("calendar.path is required for the file driver")
		}
	default:
		return calendar.Config{}, fmt.Errorf("calendar.driver: unknown driver %q", c.Driver)
	}
	return calendar.Config{
		Driver:          driver,
		CalendarID:      strings.TrimSpace(c.CalendarID),
		CredentialsFile: strings.TrimSpace(c.CredentialsFile),
		APIKey:          strings.TrimSpace(c.APIKey),
		Path:            strings.TrimSpace(c.Path),
		Timeout:         timeout,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminderSettings, error) {
	r := cfg.Reminder
	eng := reminder.DefaultConfig()

	if len(r.Thresholds) > 0 {
		th, err := reminder.ParseThresholds(r.Thresholds)
		if err != nil {
			return reminderSettings{}, fmt.Errorf("reminder.thresholds: %w", err)
		}
		eng.Thresholds = th
	}
	interval, err := config.ParseDurationAtLeast("reminder.tick_interval", r.TickInterval, defaultTickInterval, time.Second)
	if err != nil {
		return reminderSettings{}, err
	}
	if eng.Lookahead, err = config.ParseDurationOrDefault("reminder.lookahead", r.Lookahead, eng.Lookahead); err != nil {
		return reminderSettings{}, err
	}
	if r.MarkFailedAsSent != nil {
		eng.MarkFailedAsSent = *r.MarkFailedAsSent
	}

	loc := time.UTC
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return reminderSettings{}, fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
		}
	}
	mention := defaultMention
	if r.Mention != nil {
		mention = strings.TrimSpace(*r.Mention)
	}
	return reminderSettings{
		Engine:   eng,
		Interval: interval,
		Renderer: reminder.Renderer{Location: loc, Mention: mention},
	}, nil
}

func mapDeliveryConfig(cfg *config.Config, env config.Env) (delivery.Config, error) {
	sendTimeout, err := config.ParseDurationField("telegram.send_timeout", cfg.Telegram.SendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return delivery.Config{}, errors.New("telegram.rate_per_sec must be >= 0")
	}
	if env.ChatID == 0 {
		return delivery.Config{}, config.ErrNoChatID
	}
	return delivery.Config{
		Broadcast:   kit.ChatTarget{ChatID: env.ChatID, ThreadID: env.ThreadID},
		SendTimeout: sendTimeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
	}, nil
}

// mapAnnounce reports whether the startup announcement is on and its
// grace period.
func mapAnnounce(cfg *config.Config) (bool, time.Duration, error) {
	enabled := cfg.Announce.Enabled == nil || *cfg.Announce.Enabled
	grace, err := config.ParseDurationOrDefault("announce.grace", cfg.Announce.Grace, 10*time.Second)
	return enabled, grace, err
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
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
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
}

func mapOpsAddr(cfg *config.Config) (string, bool) {
	if !cfg.Ops.Enabled {
		return "", false
	}
	if addr := strings.TrimSpace(cfg.Ops.Addr); addr != "" {
		return addr, true
	}
	return ops.DefaultAddr, true
}

// Validate checks every section the way startup would map it. Used for
// reload validation and by the validate command.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		collect(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		collect(fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}
	_, err := parseGroupLog(cfg.Telegram.GroupLog)
	collect(err)
	_, err = config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	collect(err)
	_, err = mapCalendarConfig(cfg)
	collect(err)
	_, err = mapReminderConfig(cfg)
	collect(err)
	_, _, err = mapAnnounce(cfg)
	collect(err)
	_, _, err = mapStorageConfig(cfg)
	collect(err)
	_, err = mapDeliveryConfig(cfg, config.Env{ChatID: -1})
	collect(err)
	return errors.Join(errs...)
}
