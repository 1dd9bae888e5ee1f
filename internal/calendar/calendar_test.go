package calendar

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	logx "calnotify/pkg/logx"
)

func TestEventTimeResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     EventTime
		want   time.Time
		allDay bool
	}{
		{"utc z", EventTime{DateTime: "2026-10-17T09:00:00Z"}, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), false},
		{"offset", EventTime{DateTime: "2026-10-17T09:00:00+07:00"}, time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC), false},
		{"no offset is utc", EventTime{DateTime: "2026-10-17T09:00:00"}, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), false},
		{"date only", EventTime{Date: "2026-10-18"}, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), true},
		{"datetime wins", EventTime{DateTime: "2026-10-17T09:00:00Z", Date: "2026-10-18"}, time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), false},
		{"garbage", EventTime{DateTime: "tomorrow"}, time.Time{}, false},
		{"empty", EventTime{}, time.Time{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, allDay := tt.in.Resolve()
			if !got.Equal(tt.want) || allDay != tt.allDay {
				t.Fatalf("Resolve() = %v,%v want %v,%v", got, allDay, tt.want, tt.allDay)
			}
		})
	}
}

func TestRawEventDefaults(t *testing.T) {
	ev := RawEvent{ID: " e1 ", Start: EventTime{Date: "2026-10-18"}}.Event()
	if ev.ID != "e1" || ev.Title != DefaultTitle || ev.Description != DefaultDescription || !ev.AllDay {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Event{ID: "x"}).Validate(); !errors.Is(err, ErrNoStart) {
		t.Fatalf("missing start err = %v", err)
	}
	if err := (Event{Start: time.Now()}).Validate(); !errors.Is(err, ErrNoID) {
		t.Fatalf("missing id err = %v", err)
	}
}

func TestFileSourceWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.yaml")
	doc := `
- id: later
  summary: Retro
  start: {dateTime: "2026-10-17T15:00:00Z"}
- id: soon
  summary: Standup
  description: "<b>Room 4</b>"
  start: {dateTime: "2026-10-17T10:30:00Z"}
- id: ongoing
  start: {dateTime: "2026-10-17T09:30:00Z"}
  end: {dateTime: "2026-10-17T11:00:00Z"}
- id: finished
  start: {dateTime: "2026-10-17T08:00:00Z"}
- id: too-far
  start: {dateTime: "2026-10-19T10:00:00Z"}
- id: broken
  start: {dateTime: "not a time"}
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := NewFile(path, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	src.Now = func() time.Time { return now }

	evs, err := src.Upcoming(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	var ids []string
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	want := []string{"broken", "ongoing", "soon", "later"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	if evs[2].Description != "<b>Room 4</b>" || evs[3].Title != "Retro" {
		t.Fatalf("fields not carried: %+v", evs)
	}
}

func TestFileSourceErrors(t *testing.T) {
	if _, err := NewFile(" ", logx.Nop()); err == nil {
		t.Fatal("empty path should fail")
	}
	src, _ := NewFile(filepath.Join(t.TempDir(), "missing.yaml"), logx.Nop())
	if _, err := src.Upcoming(context.Background(), time.Hour); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestFromGoogle(t *testing.T) {
	ev := fromGoogle(&gcal.Event{
		Id:      "g1",
		Summary: "Planning",
		Start:   &gcal.EventDateTime{DateTime: "2026-10-17T09:00:00-04:00"},
		End:     &gcal.EventDateTime{DateTime: "2026-10-17T10:00:00-04:00"},
	})
	if ev.ID != "g1" || ev.Title != "Planning" || ev.Description != DefaultDescription {
		t.Fatalf("unexpected: %+v", ev)
	}
	if !ev.Start.Equal(time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", ev.Start)
	}
	if got := fromGoogle(&gcal.Event{Id: "g2"}); got.Validate() == nil {
		t.Fatal("event without start should not validate")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "ical"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}
