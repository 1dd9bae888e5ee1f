package reminder

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"calnotify/internal/calendar"
	"calnotify/internal/richtext"
)

type State string

const (
	StateUpcoming State = "upcoming"
	StateStarted  State = "started"
)

type Audience string

const (
	AudienceBroadcast Audience = "broadcast"
	AudienceRequester Audience = "requester"
)

const (
	startTimeLayout = "Mon, 02 Jan 2006 15:04 MST"
	allDayLayout    = "Mon, 02 Jan 2006"
)

// Message is a rendered notification. Title and Body are display markup
// (**bold**, [text](url), newlines).
type Message struct {
	Key       Key
	Title     string
	Body      string
	Mention   string // attention marker, broadcast only
	Start     time.Time
	State     State
	Audience  Audience
	Threshold string // empty when nothing has been crossed yet
}

// Text joins mention, title and body into one display-markup string.
func (m Message) Text() string {
	var b strings.Builder
	if m.Mention != "" {
		b.WriteString(m.Mention)
		b.WriteString("\n")
	}
	b.WriteString("**" + m.Title + "**")
	if m.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(m.Body)
	}
	return b.String()
}

// StateAt is started once start is not after now.
func StateAt(start, now time.Time) State {
	if start.After(now) {
		return StateUpcoming
	}
	return StateStarted
}

// Renderer formats events. The zero value renders times in UTC with no
// mention.
type Renderer struct {
	Location *time.Location
	Mention  string
}

// Render is pure: identical inputs give identical messages.
func (r Renderer) Render(ev calendar.Event, label string, now time.Time, aud Audience) Message {
	state := StateAt(ev.Start, now)
	msg := Message{
		Key:       Key{EventID: ev.ID, Label: label},
		Start:     ev.Start,
		State:     state,
		Audience:  aud,
		Threshold: label,
	}
	if aud == AudienceBroadcast {
		msg.Mention = strings.TrimSpace(r.Mention)
	}

	if state == StateUpcoming {
		msg.Title = "🔔 Upcoming Event: " + ev.Title
	} else {
		msg.Title = "🔔 Event Started: " + ev.Title
	}

	var b strings.Builder
	b.WriteString(richtext.FromHTML(ev.Description))
	b.WriteString("\n\n🕒 Start time: ")
	b.WriteString(r.absolute(ev))
	b.WriteString("\n")
	if state == StateUpcoming {
		b.WriteString("⏳ Starts " + humanize.RelTime(ev.Start, now, "ago", "from now"))
	} else {
		b.WriteString("✅ Event has **started**")
	}
	msg.Body = b.String()
	return msg
}

func (r Renderer) absolute(ev calendar.Event) string {
	if ev.AllDay {
		// All-day dates are calendar dates, not instants; keep them in UTC
		// so the day never shifts.
		return ev.Start.UTC().Format(allDayLayout) + " (all day)"
	}
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return ev.Start.In(loc).Format(startTimeLayout)
}
