package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"calnotify/internal/config"
	"calnotify/internal/delivery"
	"calnotify/internal/runtime/supervisor"
	"calnotify/internal/scheduler"
	kit "calnotify/internal/transport"
	logx "calnotify/pkg/logx"
)

func ptr[T any](v T) *T { return &v }

func validConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc"},
		Calendar: config.CalendarConfig{Driver: "file", Path: "./events.yaml"},
	}
}

func TestMapReminderConfigDefaults(t *testing.T) {
	t.Parallel()
	rs, err := mapReminderConfig(validConfig())
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if got := strings.Join(rs.Engine.Thresholds.Labels(), ","); got != "8h,3h,1h,now" {
		t.Fatalf("thresholds = %s", got)
	}
	if rs.Interval != time.Minute || rs.Engine.Lookahead != 24*time.Hour {
		t.Fatalf("interval/lookahead = %s/%s", rs.Interval, rs.Engine.Lookahead)
	}
	if !rs.Engine.MarkFailedAsSent {
		t.Fatal("mark_failed_as_sent should default to true")
	}
	if rs.Renderer.Location != time.UTC || rs.Renderer.Mention != "@here" {
		t.Fatalf("renderer = %+v", rs.Renderer)
	}
}

func TestMapReminderConfigOverrides(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	cfg.Reminder = config.ReminderConfig{
		Thresholds:       []string{"now", "30m"},
		TickInterval:     "30s",
		Lookahead:        "2d",
		Timezone:         "Europe/Berlin",
		Mention:          ptr(""),
		MarkFailedAsSent: ptr(false),
	}
	rs, err := mapReminderConfig(cfg)
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if got := strings.Join(rs.Engine.Thresholds.Labels(), ","); got != "30m,now" {
		t.Fatalf("thresholds = %s", got)
	}
	if rs.Interval != 30*time.Second || rs.Engine.Lookahead != 48*time.Hour || rs.Engine.MarkFailedAsSent {
		t.Fatalf("settings = %+v", rs)
	}
	if rs.Renderer.Location.String() != "Europe/Berlin" || rs.Renderer.Mention != "" {
		t.Fatalf("renderer = %+v", rs.Renderer)
	}
}

func TestValidateReportsFieldPaths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"tick interval", func(c *config.Config) { c.Reminder.TickInterval = "often" }, "reminder.tick_interval"},
		{"sub-second tick", func(c *config.Config) { c.Reminder.TickInterval = "500ms" }, "reminder.tick_interval"},
		{"thresholds", func(c *config.Config) { c.Reminder.Thresholds = []string{"1h", "1h"} }, "reminder.thresholds"},
		{"timezone", func(c *config.Config) { c.Reminder.Timezone = "Mars/Olympus" }, "reminder.timezone"},
		{"calendar driver", func(c *config.Config) { c.Calendar.Driver = "caldav" }, "calendar.driver"},
		{"google without id", func(c *config.Config) { c.Calendar = config.CalendarConfig{Driver: "google", APIKey: "k"} }, "calendar.calendar_id"},
		{"storage path", func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"group log", func(c *config.Config) { c.Telegram.GroupLog = "logs" }, "telegram.group_log"},
		{"log level", func(c *config.Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"announce grace", func(c *config.Config) { c.Announce.Grace = "-1s" }, "announce.grace"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate err = %v, want mention of %s", err, tt.want)
			}
		})
	}
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestMapTokenAndDelivery(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if tok, _ := mapToken(cfg, config.Env{BotToken: "env"}); tok != "env" {
		t.Fatalf("env token should win, got %q", tok)
	}
	cfg.Telegram.Token = ""
	if _, err := mapToken(cfg, config.Env{}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("missing token err = %v", err)
	}

	dc, err := mapDeliveryConfig(cfg, config.Env{ChatID: -100, ThreadID: 4})
	if err != nil {
		t.Fatalf("mapDeliveryConfig: %v", err)
	}
	if dc.Broadcast.ChatID != -100 || dc.Broadcast.ThreadID != 4 {
		t.Fatalf("broadcast = %+v", dc.Broadcast)
	}
	if _, err := mapDeliveryConfig(cfg, config.Env{}); !errors.Is(err, config.ErrNoChatID) {
		t.Fatalf("missing chat err = %v", err)
	}
}

func TestMapAnnounceAndStorage(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	if on, grace, err := mapAnnounce(cfg); err != nil || !on || grace != 10*time.Second {
		t.Fatalf("announce default = %v %s %v", on, grace, err)
	}
	cfg.Announce.Enabled = ptr(false)
	if on, _, _ := mapAnnounce(cfg); on {
		t.Fatal("announce should be disabled")
	}

	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("nil storage = %v %v", enabled, err)
	}
	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db"}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("sqlite storage = %+v %v %v", sc, enabled, err)
	}
}

func TestPrintUpcomingFromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	events := filepath.Join(dir, "events.yaml")
	// The file source windows on the wall clock.
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(30 * time.Minute).Format(time.RFC3339)
	data := `
- id: standup
  summary: Standup
  description: "<b>Daily</b> sync"
  start: {dateTime: "` + start + `"}
`
	if err := os.WriteFile(events, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := validConfig()
	cfg.Calendar.Path = events

	var buf bytes.Buffer
	if err := PrintUpcoming(context.Background(), cfg, &buf, now, logx.Nop()); err != nil {
		t.Fatalf("PrintUpcoming: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Upcoming Event: Standup", "**Daily** sync"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte("calendar:\n  driver: file\n  path: ./e.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := CheckConfig(p, config.Env{}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
	if _, err := CheckConfig(p, config.Env{BotToken: "t"}); err != nil {
		t.Fatalf("CheckConfig: %v", err)
	}
}

type orderLog struct {
	mu    sync.Mutex
	steps []string
}

func (o *orderLog) add(s string) {
	o.mu.Lock()
	o.steps = append(o.steps, s)
	o.mu.Unlock()
}

func (o *orderLog) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.steps...)
}

type orderSender struct{ log *orderLog }

func (s orderSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.log.add("announce")
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (s orderSender) DeleteMessage(context.Context, kit.MessageRef) error {
	s.log.add("retract")
	return nil
}

func TestAnnouncementPrecedesFirstTick(t *testing.T) {
	order := &orderLog{}
	ticked := make(chan struct{}, 1)
	sched, err := scheduler.New(func(context.Context, time.Time) error {
		order.add("tick")
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	}, scheduler.Config{Interval: time.Hour, RunImmediately: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &App{
		sup:       supervisor.NewSupervisor(ctx),
		log:       logx.Nop(),
		sched:     sched,
		announcer: delivery.NewAnnouncer(orderSender{log: order}, kit.ChatTarget{ChatID: -100}, time.Hour, logx.Nop()),
	}
	if err := a.startReminders(a.sup.Context()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never ran")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	got := order.snapshot()
	if len(got) < 2 || got[0] != "announce" || got[1] != "tick" {
		t.Fatalf("order = %v, want announce before tick", got)
	}
}
