package calendar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	logx "calnotify/pkg/logx"
)

// FileSource reads events from a YAML document on every call. The
// document is a list of events in Google's shape:
//
//	- id: standup
//	  summary: Daily standup
//	  description: "<b>Room 4</b>"
//	  start: {dateTime: "2026-10-17T09:00:00+07:00"}
type FileSource struct {
	path string
	log  logx.Logger

	// Now is the clock used for the window; defaults to time.Now.
	Now func() time.Time
}

func NewFile(path string, log logx.Logger) (*FileSource, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("calendar.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileSource{path: path, log: log}, nil
}

func (s *FileSource) Upcoming(ctx context.Context, lookahead time.Duration) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var raw []RawEvent
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	to := now.Add(lookahead)

	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		ev := r.Event()
		if !inWindow(ev, now, to) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	s.log.Debug("file calendar read", logx.String("path", s.path), logx.Int("events", len(out)))
	return out, nil
}
