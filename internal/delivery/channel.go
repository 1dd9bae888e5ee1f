// Package delivery sends rendered reminders through the chat transport.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"calnotify/internal/reminder"
	"calnotify/internal/richtext"
	kit "calnotify/internal/transport"
	logx "calnotify/pkg/logx"
	"calnotify/pkg/tgui"
)

// Sender is the part of transport.Adapter delivery needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

type Config struct {
	// Broadcast is the fixed destination of periodic reminders.
	Broadcast   kit.ChatTarget
	SendTimeout time.Duration
	// RatePerSec caps outgoing messages; Telegram allows about one per
	// second per chat.
	RatePerSec float64
}

// Channel implements reminder.Channel for the broadcast chat and replies
// to requesters for the on-demand listing.
type Channel struct {
	s   Sender
	cfg Config
	lim *rate.Limiter
	log logx.Logger
}

var _ reminder.Channel = (*Channel)(nil)

func New(s Sender, cfg Config, log logx.Logger) (*Channel, error) {
	if s == nil {
		return nil, errors.New("delivery: nil sender")
	}
	if cfg.Broadcast.IsZero() {
		return nil, errors.New("delivery: broadcast chat is not configured")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{
		s:   s,
		cfg: cfg,
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 3),
		log: log,
	}, nil
}

func (c *Channel) Broadcast() kit.ChatTarget { return c.cfg.Broadcast }

// Send delivers a broadcast reminder.
func (c *Channel) Send(ctx context.Context, msg reminder.Message) error {
	_, err := c.send(ctx, c.cfg.Broadcast, Format(msg))
	return err
}

// Reply delivers msg to the chat (and topic) a command came from.
func (c *Channel) Reply(ctx context.Context, msg reminder.Message, to kit.ChatTarget) error {
	_, err := c.send(ctx, to, Format(msg))
	return err
}

// ReplyText sends a plain status line, escaped.
func (c *Channel) ReplyText(ctx context.Context, to kit.ChatTarget, text string) error {
	_, err := c.send(ctx, to, tgui.Esc(text))
	return err
}

func (c *Channel) send(ctx context.Context, to kit.ChatTarget, body tgui.H) (kit.MessageRef, error) {
	if to.IsZero() {
		return kit.MessageRef{}, errors.New("delivery: empty chat target")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()
	if err := c.lim.Wait(ctx); err != nil {
		return kit.MessageRef{}, fmt.Errorf("rate limit: %w", err)
	}
	ref, err := c.s.SendText(ctx, to, body.String(), &kit.SendOptions{
		ParseMode:      tgui.ParseModeHTML,
		DisablePreview: true,
	})
	if err != nil {
		c.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return ref, err
	}
	return ref, nil
}

// Format renders a message as Telegram HTML.
func Format(msg reminder.Message) tgui.H {
	return richtext.ToTelegramHTML(msg.Text())
}
