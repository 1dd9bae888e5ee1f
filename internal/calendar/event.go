package calendar

import (
	"errors"
	"strings"
	"time"
)

const (
	DefaultTitle       = "Untitled Event"
	DefaultDescription = "No description provided"
)

var (
	ErrNoID    = errors.New("event has no id")
	ErrNoStart = errors.New("event has no usable start time")
)

// Event is an immutable snapshot of one calendar entry as returned by a
// single fetch.
type Event struct {
	ID          string
	Title       string
	Description string // rich text (HTML)
	Start       time.Time
	End         time.Time // zero when the source does not report one
	AllDay      bool
}

// Validate reports whether the event can take part in threshold evaluation.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrNoID
	}
	if e.Start.IsZero() {
		return ErrNoStart
	}
	return nil
}

// EventTime is the start/end shape shared by Google Calendar and the file
// source: exactly one of DateTime or Date is normally set.
type EventTime struct {
	DateTime string `yaml:"dateTime" json:"dateTime,omitempty"`
	Date     string `yaml:"date" json:"date,omitempty"`
}

// Resolve returns the instant the value denotes. A DateTime without an
// offset is read as UTC; a Date resolves to midnight UTC and reports
// allDay. A value that cannot be parsed yields the zero time.
func (t EventTime) Resolve() (at time.Time, allDay bool) {
	if dt := strings.TrimSpace(t.DateTime); dt != "" {
		if v, err := time.Parse(time.RFC3339, dt); err == nil {
			return v, false
		}
		if v, err := time.ParseInLocation("2006-01-02T15:04:05", dt, time.UTC); err == nil {
			return v, false
		}
		return time.Time{}, false
	}
	if d := strings.TrimSpace(t.Date); d != "" {
		if v, err := time.ParseInLocation(time.DateOnly, d, time.UTC); err == nil {
			return v, true
		}
	}
	return time.Time{}, false
}

// RawEvent is an event as stored by a backend before defaults and time
// resolution are applied.
type RawEvent struct {
	ID          string     `yaml:"id" json:"id"`
	Summary     string     `yaml:"summary" json:"summary,omitempty"`
	Description string     `yaml:"description" json:"description,omitempty"`
	Start       EventTime  `yaml:"start" json:"start"`
	End         *EventTime `yaml:"end" json:"end,omitempty"`
}

// Event applies defaults and resolves times. An unparseable start leaves
// Start zero so Validate rejects the event downstream.
func (r RawEvent) Event() Event {
	ev := Event{
		ID:          strings.TrimSpace(r.ID),
		Title:       strings.TrimSpace(r.Summary),
		Description: strings.TrimSpace(r.Description),
	}
	if ev.Title == "" {
		ev.Title = DefaultTitle
	}
	if ev.Description == "" {
		ev.Description = DefaultDescription
	}
	ev.Start, ev.AllDay = r.Start.Resolve()
	if r.End != nil {
		ev.End, _ = r.End.Resolve()
	}
	return ev
}

// inWindow reports whether ev overlaps [from, to]. Events already under way
// stay in the window until they end, matching Google's timeMin semantics.
func inWindow(ev Event, from, to time.Time) bool {
	if ev.Start.IsZero() {
		// Keep it so the consumer can report the malformed record.
		return true
	}
	if ev.Start.After(to) {
		return false
	}
	end := ev.End
	if end.IsZero() || !end.After(ev.Start) {
		end = ev.Start.Add(defaultLength(ev.AllDay))
	}
	return end.After(from)
}

func defaultLength(allDay bool) time.Duration {
	if allDay {
		return 24 * time.Hour
	}
	return time.Hour
}
