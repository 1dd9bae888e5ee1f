package ops

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"calnotify/internal/eventbus"
)

// Metrics are the reminder counters exported on /metrics. They are fed
// from the event bus by Run.
type Metrics struct {
	reg *prometheus.Registry

	sent          *prometheus.CounterVec
	failed        *prometheus.CounterVec
	ticks         prometheus.Counter
	malformed     prometheus.Counter
	fetchFailures prometheus.Counter
	tickDuration  prometheus.Histogram
	lastTick      prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry together with
// the Go and process collectors. dedupSize may be nil.
func NewMetrics(dedupSize func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calnotify_reminders_sent_total",
			Help: "Reminder messages delivered, by threshold label",
		}, []string{"label"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calnotify_reminders_failed_total",
			Help: "Reminder deliveries that failed, by threshold label",
		}, []string{"label"}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "calnotify_ticks_total",
			Help: "Completed reminder ticks",
		}),
		malformed: f.NewCounter(prometheus.CounterOpts{
			Name: "calnotify_events_malformed_total",
			Help: "Calendar events skipped as malformed",
		}),
		fetchFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "calnotify_calendar_fetch_failures_total",
			Help: "Ticks abandoned because the calendar fetch failed",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "calnotify_tick_duration_seconds",
			Help:    "Time spent in one reminder tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		lastTick: f.NewGauge(prometheus.GaugeOpts{
			Name: "calnotify_last_tick_timestamp_seconds",
			Help: "Unix time of the last completed tick",
		}),
	}
	if dedupSize != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "calnotify_dedup_keys",
			Help: "Notification keys recorded as sent",
		}, func() float64 { return float64(dedupSize()) })
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe updates the collectors for one bus event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeReminderSent:
		if d, ok := ev.Data.(eventbus.Delivery); ok {
			m.sent.WithLabelValues(d.Label).Inc()
		}
	case eventbus.TypeReminderFailed:
		if d, ok := ev.Data.(eventbus.Delivery); ok {
			m.failed.WithLabelValues(d.Label).Inc()
		}
	case eventbus.TypeFetchFailed:
		m.fetchFailures.Inc()
	case eventbus.TypeTickDone:
		m.ticks.Inc()
		m.lastTick.Set(float64(ev.Time.Unix()))
		if t, ok := ev.Data.(eventbus.Tick); ok {
			m.malformed.Add(float64(t.Malformed))
			m.tickDuration.Observe(t.Took.Seconds())
		}
	}
}

// Run feeds bus events into the collectors until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}
