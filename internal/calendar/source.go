package calendar

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "calnotify/pkg/logx"
)

// Source returns the events that overlap [now, now+lookahead].
type Source interface {
	Upcoming(ctx context.Context, lookahead time.Duration) ([]Event, error)
}

// Config selects and configures a Source backend.
//
// Driver values:
//   - "google": Google Calendar API v3
//   - "file": YAML file in Google's event shape
type Config struct {
	Driver          string
	CalendarID      string
	CredentialsFile string
	APIKey          string
	Path            string
	Timeout         time.Duration
}

// Open builds the configured source.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "google":
		return NewGoogle(ctx, cfg, log)
	case "file":
		return NewFile(cfg.Path, log)
	default:
		return nil, errors.New("unknown calendar driver: " + cfg.Driver)
	}
}
