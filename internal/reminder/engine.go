package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calnotify/internal/calendar"
	"calnotify/internal/eventbus"
	logx "calnotify/pkg/logx"
)

// Channel delivers broadcast notifications.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	Thresholds Thresholds
	Lookahead  time.Duration
	// MarkFailedAsSent records a key even when its send failed, trading a
	// lost alert for never repeating one.
	MarkFailedAsSent bool
}

func DefaultConfig() Config {
	return Config{
		Thresholds:       DefaultThresholds(),
		Lookahead:        24 * time.Hour,
		MarkFailedAsSent: true,
	}
}

// TickReport summarizes one periodic evaluation.
type TickReport struct {
	At        time.Time
	Events    int
	Sent      int
	Failed    int
	Malformed int
	Took      time.Duration
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }
func WithBus(b eventbus.Bus) Option     { return func(e *Engine) { e.bus = b } }

// Engine runs the periodic and on-demand paths over one calendar source.
type Engine struct {
	cfg    Config
	src    calendar.Source
	dedup  Deduplicator
	ch     Channel
	render Renderer
	log    logx.Logger
	bus    eventbus.Bus

	// tickMu makes each tick's check-send-record sequence atomic and keeps
	// ticks from overlapping.
	tickMu sync.Mutex

	mu   sync.Mutex
	last TickReport
}

func NewEngine(cfg Config, src calendar.Source, dedup Deduplicator, ch Channel, r Renderer, opts ...Option) *Engine {
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	if dedup == nil {
		dedup = NewMemoryLog()
	}
	e := &Engine{cfg: cfg, src: src, dedup: dedup, ch: ch, render: r}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.bus == nil {
		e.bus = eventbus.Nop{}
	}
	return e
}

func (e *Engine) Thresholds() Thresholds { return e.cfg.Thresholds }

// Tick evaluates the window at now and sends at most one broadcast per
// event. A fetch failure abandons the tick and is returned wrapped in
// ErrFetch; malformed events and failed sends only affect their own event.
//
// Cancelling ctx does not interrupt a tick in progress.
func (e *Engine) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	ctx = context.WithoutCancel(ctx)

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	began := time.Now()
	rep := TickReport{At: now}

	events, err := e.src.Upcoming(ctx, e.cfg.Lookahead)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrFetch, err)
		e.log.Warn("tick abandoned", logx.Err(err))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeFetchFailed, Data: err.Error()})
		return rep, err
	}
	rep.Events = len(events)

	for _, ev := range events {
		if verr := ev.Validate(); verr != nil {
			rep.Malformed++
			e.log.Warn("event skipped", logx.String("event", ev.ID), logx.Err(fmt.Errorf("%w: %w", ErrMalformedEvent, verr)))
			continue
		}
		th, stale, ok := e.next(ev, now)
		if !ok {
			continue
		}
		sent, recorded := e.deliver(ctx, ev, th, now)
		if sent {
			rep.Sent++
		} else {
			rep.Failed++
		}
		if recorded {
			for _, k := range stale {
				e.dedup.Record(k)
			}
		}
	}

	rep.Took = time.Since(began)
	e.mu.Lock()
	e.last = rep
	e.mu.Unlock()

	e.bus.Publish(eventbus.Event{Type: eventbus.TypeTickDone, Data: eventbus.Tick{
		Events: rep.Events, Sent: rep.Sent, Failed: rep.Failed, Malformed: rep.Malformed, Took: rep.Took,
	}})
	if rep.Sent > 0 || rep.Failed > 0 || rep.Malformed > 0 {
		e.log.Info("tick done",
			logx.Int("events", rep.Events),
			logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed),
			logx.Int("malformed", rep.Malformed),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

// next picks the threshold to fire for ev at now: the most imminent
// crossed threshold that is still novel. Novel thresholds with a longer
// lead are returned as stale keys; after a stall they are superseded
// rather than sent one per tick.
func (e *Engine) next(ev calendar.Event, now time.Time) (Threshold, []Key, bool) {
	crossed := Crossed(ev.Start, now, e.cfg.Thresholds)
	for i := len(crossed) - 1; i >= 0; i-- {
		if !e.dedup.IsNovel(Key{EventID: ev.ID, Label: crossed[i].Label}) {
			continue
		}
		var stale []Key
		for _, t := range crossed[:i] {
			k := Key{EventID: ev.ID, Label: t.Label}
			if e.dedup.IsNovel(k) {
				stale = append(stale, k)
			}
		}
		return crossed[i], stale, true
	}
	return Threshold{}, nil, false
}

// deliver renders and sends one notification. It reports whether the send
// succeeded and whether the key was recorded.
func (e *Engine) deliver(ctx context.Context, ev calendar.Event, th Threshold, now time.Time) (sent, recorded bool) {
	msg := e.render.Render(ev, th.Label, now, AudienceBroadcast)

	began := time.Now()
	err := e.ch.Send(ctx, msg)
	took := time.Since(began)

	payload := eventbus.Delivery{
		Key:      msg.Key.String(),
		EventID:  ev.ID,
		Label:    th.Label,
		State:    string(msg.State),
		Audience: string(msg.Audience),
		Took:     took,
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrDelivery, msg.Key, err)
		payload.Err = err.Error()
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFailed, Data: payload})
		e.log.Warn("notification failed",
			logx.String("key", msg.Key.String()),
			logx.Bool("marked_sent", e.cfg.MarkFailedAsSent),
			logx.Err(err),
		)
		if e.cfg.MarkFailedAsSent {
			e.dedup.Record(msg.Key)
			return false, true
		}
		return false, false
	}

	e.dedup.Record(msg.Key)
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderSent, Data: payload})
	e.log.Debug("notification sent", logx.String("key", msg.Key.String()), logx.String("state", string(msg.State)))
	return true, true
}

// Upcoming renders every valid event in the window for a single requester,
// labelled with its most imminent crossed threshold. It never reads or
// writes the Deduplicator and does not wait for a running tick.
func (e *Engine) Upcoming(ctx context.Context, now time.Time) ([]Message, error) {
	events, err := e.src.Upcoming(ctx, e.cfg.Lookahead)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	out := make([]Message, 0, len(events))
	for _, ev := range events {
		if ev.Validate() != nil {
			continue
		}
		label := ""
		if crossed := Crossed(ev.Start, now, e.cfg.Thresholds); len(crossed) > 0 {
			label = crossed[len(crossed)-1].Label
		}
		out = append(out, e.render.Render(ev, label, now, AudienceRequester))
	}
	return out, nil
}

// LastTick returns the report of the most recent completed tick.
func (e *Engine) LastTick() (TickReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, !e.last.At.IsZero()
}
