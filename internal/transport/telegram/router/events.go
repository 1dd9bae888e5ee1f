package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"calnotify/internal/reminder"
	kit "calnotify/internal/transport"
)

const NoUpcomingEvents = "No upcoming events"

// Querier renders the current window without touching dedup state.
type Querier interface {
	Upcoming(ctx context.Context, now time.Time) ([]reminder.Message, error)
}

// Ticker runs one periodic evaluation.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (reminder.TickReport, error)
}

// Replier delivers a rendered message to the requesting chat.
type Replier interface {
	Reply(ctx context.Context, msg reminder.Message, to kit.ChatTarget) error
}

// EventCommands returns /events (everyone) and /events tick (owners).
// now defaults to time.Now.
func EventCommands(q Querier, tk Ticker, rp Replier, now func() time.Time) []Command {
	if now == nil {
		now = time.Now
	}
	return []Command{
		{
			Route:       "events",
			Aliases:     []string{"upcoming"},
			Description: "list events in the lookahead window",
			Usage:       "/events",
			Timeout:     45 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				msgs, err := q.Upcoming(ctx, now())
				if err != nil {
					_ = req.Reply(ctx, "⚠️ Could not fetch events: "+html.EscapeString(err.Error()))
					return err
				}
				if len(msgs) == 0 {
					return req.Reply(ctx, NoUpcomingEvents)
				}
				var errs []error
				for _, msg := range msgs {
					if err := rp.Reply(ctx, msg, req.Chat); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", msg.Key.EventID, err))
					}
				}
				return errors.Join(errs...)
			},
		},
		{
			Route:       "events tick",
			Description: "run a reminder tick now",
			Usage:       "/events tick",
			Access:      AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				rep, err := tk.Tick(ctx, now())
				if err != nil {
					_ = req.Reply(ctx, "⚠️ Tick failed: "+html.EscapeString(err.Error()))
					return err
				}
				return req.Reply(ctx, fmt.Sprintf(
					"✅ Tick done in %s\nevents: %d\nsent: %d\nfailed: %d\nmalformed: %d",
					rep.Took.Round(time.Millisecond), rep.Events, rep.Sent, rep.Failed, rep.Malformed,
				))
			},
		},
	}
}
