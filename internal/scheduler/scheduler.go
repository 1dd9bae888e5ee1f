// Package scheduler drives periodic reminder ticks with robfig/cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "calnotify/pkg/logx"
)

// TickFunc is one periodic evaluation. Engine.Tick satisfies it after
// discarding the report.
type TickFunc func(ctx context.Context, now time.Time) error

type Config struct {
	Interval time.Duration
	// RunImmediately fires one tick as soon as Start is called instead of
	// waiting a full interval.
	RunImmediately bool
	// Now is the clock passed to ticks; defaults to time.Now.
	Now func() time.Time
}

// Scheduler runs TickFunc every Interval. Ticks never overlap: a tick that
// is due while the previous one still runs is skipped.
type Scheduler struct {
	cfg  Config
	tick TickFunc
	log  logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	// immediate tracks the RunImmediately tick, which cron's own job
	// waiter does not see.
	immediate sync.WaitGroup
}

func New(tick TickFunc, cfg Config, log logx.Logger) (*Scheduler, error) {
	if tick == nil {
		return nil, errors.New("scheduler: nil tick func")
	}
	if cfg.Interval < time.Second {
		return nil, fmt.Errorf("scheduler: interval %s is below 1s", cfg.Interval)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg, tick: tick, log: log}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	clog := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	job := s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.run))
	s.entry = job
	s.c.Start()
	s.running = true

	if s.cfg.RunImmediately {
		// Goes through the same wrapped job so it is serialized with the
		// cron-fired ticks.
		wrapped := s.c.Entry(job).WrappedJob
		s.immediate.Add(1)
		go func() {
			defer s.immediate.Done()
			wrapped.Run()
		}()
	}
	s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	now := s.cfg.Now()
	if err := s.tick(ctx, now); err != nil {
		s.log.Warn("tick failed", logx.Time("now", now), logx.Err(err))
	}
}

// Next returns the next scheduled tick, zero if stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Stop prevents new ticks and waits for a running one to finish, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c := s.c
	cancel := s.cancel
	s.mu.Unlock()

	cronDone := c.Stop().Done()
	done := make(chan struct{})
	go func() {
		<-cronDone
		s.immediate.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	s.log.Info("scheduler stopped")
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
