package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	logx "calnotify/pkg/logx"
)

const googleMaxResults = 250

// GoogleSource lists events through the Google Calendar v3 API.
type GoogleSource struct {
	svc        *gcal.Service
	calendarID string
	timeout    time.Duration
	log        logx.Logger
}

func NewGoogle(ctx context.Context, cfg Config, log logx.Logger) (*GoogleSource, error) {
	calID := strings.TrimSpace(cfg.CalendarID)
	if calID == "" {
		return nil, errors.New("calendar.calendar_id is required for google driver")
	}
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(gcal.CalendarReadonlyScope))
	case strings.TrimSpace(cfg.APIKey) != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, errors.New("calendar: credentials_file or api_key is required for google driver")
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &GoogleSource{svc: svc, calendarID: calID, timeout: cfg.Timeout, log: log}, nil
}

func (s *GoogleSource) Upcoming(ctx context.Context, lookahead time.Duration) ([]Event, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	now := time.Now().UTC()
	call := s.svc.Events.List(s.calendarID).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(lookahead).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(googleMaxResults)

	var out []Event
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, it := range page.Items {
			if it == nil || it.Status == "cancelled" {
				continue
			}
			out = append(out, fromGoogle(it))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	s.log.Debug("google calendar listed", logx.Int("events", len(out)))
	return out, nil
}

func fromGoogle(it *gcal.Event) Event {
	raw := RawEvent{
		ID:          it.Id,
		Summary:     it.Summary,
		Description: it.Description,
	}
	if it.Start != nil {
		raw.Start = EventTime{DateTime: it.Start.DateTime, Date: it.Start.Date}
	}
	if it.End != nil {
		raw.End = &EventTime{DateTime: it.End.DateTime, Date: it.End.Date}
	}
	return raw.Event()
}
