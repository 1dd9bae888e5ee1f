package delivery

import (
	"context"
	"sync"
	"time"

	kit "calnotify/internal/transport"
	logx "calnotify/pkg/logx"
)

const AnnouncementText = "🔔 Notifier is now active! I will notify you about upcoming events."

// Announcer posts the startup announcement and retracts it after a grace
// period. Only messages it posted itself are deleted.
type Announcer struct {
	s     Sender
	to    kit.ChatTarget
	grace time.Duration
	log   logx.Logger

	mu   sync.Mutex
	sent []kit.MessageRef
}

func NewAnnouncer(s Sender, to kit.ChatTarget, grace time.Duration, log logx.Logger) *Announcer {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Announcer{s: s, to: to, grace: grace, log: log}
}

// Run is Post followed by Hold.
func (a *Announcer) Run(ctx context.Context) error {
	if err := a.Post(ctx); err != nil {
		return err
	}
	return a.Hold(ctx)
}

// Post sends the announcement and remembers its ref for Retract.
func (a *Announcer) Post(ctx context.Context) error {
	ref, err := a.s.SendText(ctx, a.to, AnnouncementText, &kit.SendOptions{Silent: true})
	if err != nil {
		a.log.Warn("startup announcement failed", logx.Err(err))
		return err
	}
	a.mu.Lock()
	a.sent = append(a.sent, ref)
	a.mu.Unlock()
	return nil
}

// Hold waits for the grace period and retracts. If ctx ends first the
// announcement is retracted immediately.
func (a *Announcer) Hold(ctx context.Context) error {
	t := time.NewTimer(a.grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return a.Retract(context.WithoutCancel(ctx))
}

// Retract deletes every posted announcement. The first delete error is
// returned.
func (a *Announcer) Retract(ctx context.Context) error {
	a.mu.Lock()
	sent := a.sent
	a.sent = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var first error
	for _, ref := range sent {
		if err := a.s.DeleteMessage(ctx, ref); err != nil {
			a.log.Warn("retract announcement failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
			if first == nil {
				first = err
			}
			continue
		}
		a.log.Debug("announcement retracted", logx.Int("message_id", ref.MessageID))
	}
	return first
}
