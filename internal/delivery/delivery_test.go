package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"calnotify/internal/calendar"
	"calnotify/internal/reminder"
	kit "calnotify/internal/transport"
	logx "calnotify/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeSender struct {
	mu      sync.Mutex
	nextID  int
	sent    []sent
	deleted []kit.MessageRef
	sendErr error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return kit.MessageRef{}, f.sendErr
	}
	f.nextID++
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	f.sent = append(f.sent, sent{to: to, text: text, opt: o})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}, nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func testMessage(aud reminder.Audience) reminder.Message {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	ev := calendar.Event{ID: "e1", Title: "Q&A", Description: `<b>Bring</b> <a href="https://x.test/a?b=1&c=2">notes</a>`, Start: start}
	return reminder.Renderer{Mention: "@here"}.Render(ev, "1h", start.Add(-time.Hour), aud)
}

func TestChannelSendBroadcast(t *testing.T) {
	fs := &fakeSender{}
	ch, err := New(fs, Config{Broadcast: kit.ChatTarget{ChatID: -100, ThreadID: 7}, RatePerSec: 100}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(context.Background(), testMessage(reminder.AudienceBroadcast)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fs.sent) != 1 {
		t.Fatalf("sent %d messages", len(fs.sent))
	}
	got := fs.sent[0]
	if got.to != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) || got.opt.ParseMode != "HTML" || !got.opt.DisablePreview {
		t.Fatalf("unexpected send: %+v", got)
	}
	for _, want := range []string{
		"@here\n<b>🔔 Upcoming Event: Q&amp;A</b>",
		"<b>Bring</b> <a href=\"https://x.test/a?b=1&amp;c=2\">notes</a>",
		"⏳ Starts 1 hour from now",
	} {
		if !strings.Contains(got.text, want) {
			t.Fatalf("text missing %q:\n%s", want, got.text)
		}
	}
}

func TestChannelReplyGoesToRequester(t *testing.T) {
	fs := &fakeSender{}
	ch, _ := New(fs, Config{Broadcast: kit.ChatTarget{ChatID: -100}, RatePerSec: 100}, logx.Nop())
	to := kit.ChatTarget{ChatID: 42}
	if err := ch.Reply(context.Background(), testMessage(reminder.AudienceRequester), to); err != nil {
		t.Fatal(err)
	}
	if err := ch.ReplyText(context.Background(), to, "No upcoming events <3"); err != nil {
		t.Fatal(err)
	}
	if fs.sent[0].to != to || strings.Contains(fs.sent[0].text, "@here") {
		t.Fatalf("reply = %+v", fs.sent[0])
	}
	if fs.sent[1].text != "No upcoming events &lt;3" {
		t.Fatalf("status text = %q", fs.sent[1].text)
	}
}

func TestChannelErrors(t *testing.T) {
	if _, err := New(&fakeSender{}, Config{}, logx.Nop()); err == nil {
		t.Fatal("missing broadcast chat should fail")
	}
	fs := &fakeSender{sendErr: errors.New("forbidden")}
	ch, _ := New(fs, Config{Broadcast: kit.ChatTarget{ChatID: 1}, RatePerSec: 100}, logx.Nop())
	if err := ch.Send(context.Background(), testMessage(reminder.AudienceBroadcast)); err == nil {
		t.Fatal("send error should propagate")
	}
	if err := ch.Reply(context.Background(), testMessage(reminder.AudienceRequester), kit.ChatTarget{}); err == nil {
		t.Fatal("empty target should fail")
	}
}

func TestAnnouncerRetractsAfterGrace(t *testing.T) {
	fs := &fakeSender{}
	to := kit.ChatTarget{ChatID: -100}
	a := NewAnnouncer(fs, to, 20*time.Millisecond, logx.Nop())

	began := time.Now()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(began) < 20*time.Millisecond {
		t.Fatal("announcement retracted before the grace period")
	}
	if len(fs.sent) != 1 || fs.sent[0].text != AnnouncementText || !fs.sent[0].opt.Silent {
		t.Fatalf("sent = %+v", fs.sent)
	}
	if len(fs.deleted) != 1 || fs.deleted[0].MessageID != 1 || fs.deleted[0].ChatID != -100 {
		t.Fatalf("deleted = %+v", fs.deleted)
	}
}

func TestAnnouncerRetractsOnCancel(t *testing.T) {
	fs := &fakeSender{}
	a := NewAnnouncer(fs, kit.ChatTarget{ChatID: 5}, time.Hour, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		fs.mu.Lock()
		n := len(fs.sent)
		fs.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("announcement never sent")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(fs.deleted) != 1 {
		t.Fatalf("deleted = %+v", fs.deleted)
	}
}

func TestAnnouncerSendFailure(t *testing.T) {
	fs := &fakeSender{sendErr: errors.New("blocked")}
	a := NewAnnouncer(fs, kit.ChatTarget{ChatID: 5}, time.Millisecond, logx.Nop())
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(fs.deleted) != 0 {
		t.Fatal("nothing to retract")
	}
}

func TestAnnouncerRetractsOnlyPostedRefs(t *testing.T) {
	fs := &fakeSender{}
	a := NewAnnouncer(fs, kit.ChatTarget{ChatID: 7, ThreadID: 3}, time.Hour, logx.Nop())

	if err := a.Retract(context.Background()); err != nil || len(fs.deleted) != 0 {
		t.Fatalf("retract before post: err=%v deleted=%+v", err, fs.deleted)
	}
	if err := a.Post(context.Background()); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(fs.deleted) != 0 {
		t.Fatal("Post must not retract")
	}
	if err := a.Retract(context.Background()); err != nil {
		t.Fatalf("Retract: %v", err)
	}
	if err := a.Retract(context.Background()); err != nil {
		t.Fatalf("second Retract: %v", err)
	}
	want := kit.MessageRef{ChatID: 7, ThreadID: 3, MessageID: 1}
	if len(fs.deleted) != 1 || fs.deleted[0] != want {
		t.Fatalf("deleted = %+v, want [%+v]", fs.deleted, want)
	}
}
