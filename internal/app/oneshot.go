package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"calnotify/internal/calendar"
	"calnotify/internal/config"
	"calnotify/internal/reminder"
	logx "calnotify/pkg/logx"
)

// discard is the broadcast channel of a query-only engine. Upcoming never
// sends, so reaching it is a bug.
type discard struct{}

func (discard) Send(context.Context, reminder.Message) error {
	return errors.New("query-only engine cannot send")
}

// CheckConfig loads and validates the config the way NewApp would, without
// touching Telegram or the calendar.
func CheckConfig(cfgPath string, env config.Env) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if _, err := mapToken(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PrintUpcoming writes the on-demand listing for cfg to w, one message per
// event separated by a blank line. Nothing is sent or recorded.
func PrintUpcoming(ctx context.Context, cfg *config.Config, w io.Writer, now time.Time, log logx.Logger) error {
	calCfg, err := mapCalendarConfig(cfg)
	if err != nil {
		return err
	}
	rs, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	src, err := calendar.Open(ctx, calCfg, log.With(logx.String("comp", "calendar")))
	if err != nil {
		return err
	}
	eng := reminder.NewEngine(rs.Engine, src, reminder.NewMemoryLog(), discard{}, rs.Renderer,
		reminder.WithLogger(log.With(logx.String("comp", "reminder"))))

	msgs, err := eng.Upcoming(ctx, now)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		_, err := fmt.Fprintln(w, "No upcoming events")
		return err
	}
	for i, m := range msgs {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, m.Text()); err != nil {
			return err
		}
	}
	return nil
}
