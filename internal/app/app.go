// Package app wires configuration, the Telegram transport and the
// reminder engine into one supervised process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calnotify/internal/calendar"
	"calnotify/internal/config"
	"calnotify/internal/delivery"
	"calnotify/internal/eventbus"
	"calnotify/internal/ops"
	"calnotify/internal/reminder"
	"calnotify/internal/runtime/supervisor"
	"calnotify/internal/scheduler"
	"calnotify/internal/storage"
	kit "calnotify/internal/transport"
	telegram "calnotify/internal/transport/telegram/adapter"
	"calnotify/internal/transport/telegram/router"
	logx "calnotify/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	dedup   *reminder.MemoryLog
	engine  *reminder.Engine
	channel *delivery.Channel
	sched   *scheduler.Scheduler
	cmdm    *router.CommandManager
	metrics *ops.Metrics
	ops     *ops.Server
	opsAddr string

	announcer *delivery.Announcer

	updates chan kit.Update
}

// NewApp loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func NewApp(ctx context.Context, cfgPath string, env config.Env) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	token, err := mapToken(cfg, env)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout},
		logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// The log chat target must be set before chat forwarding is enabled.
	logCfg := mapLogConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logSvc, log := logx.NewService(logCfg, ad)
	groupLog, _ := parseGroupLog(cfg.Telegram.GroupLog)
	logSvc.SetChatTarget(groupLog, cfg.Logging.Telegram.ThreadID)
	logCfg.Chat.Enabled = chatEnabled
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))
	ad.SetLogger(log.With(logx.String("comp", "telegram")))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	calCfg, err := mapCalendarConfig(cfg)
	if err != nil {
		return nil, err
	}
	src, err := calendar.Open(ctx, calCfg, log.With(logx.String("comp", "calendar")))
	if err != nil {
		return nil, err
	}

	rs, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDeliveryConfig(cfg, env)
	if err != nil {
		return nil, err
	}
	ch, err := delivery.New(ad, dcfg, log.With(logx.String("comp", "delivery")))
	if err != nil {
		return nil, err
	}

	dedup := reminder.NewMemoryLog()
	eng := reminder.NewEngine(rs.Engine, src, dedup, ch, rs.Renderer,
		reminder.WithLogger(log.With(logx.String("comp", "reminder"))),
		reminder.WithBus(bus),
	)

	sched, err := scheduler.New(func(ctx context.Context, now time.Time) error {
		_, err := eng.Tick(ctx, now)
		return err
	}, scheduler.Config{Interval: rs.Interval, RunImmediately: true}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	cmdm.SetRegistry(router.EventCommands(eng, eng, ch, nil))

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		dedup:   dedup,
		engine:  eng,
		channel: ch,
		sched:   sched,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}

	if enabled, grace, err := mapAnnounce(cfg); err != nil {
		return nil, err
	} else if enabled {
		a.announcer = delivery.NewAnnouncer(ad, ch.Broadcast(), grace, log.With(logx.String("comp", "announce")))
	}

	if addr, enabled := mapOpsAddr(cfg); enabled {
		a.metrics = ops.NewMetrics(dedup.Len)
		a.ops = ops.NewServer(a.opsSources(), a.metrics, log.With(logx.String("comp", "ops")))
		if cfg.Ops.Pprof {
			a.ops.EnablePprof()
		}
		a.opsAddr = addr
	}

	appLog.Info("app configured",
		logx.Any("thresholds", rs.Engine.Thresholds.Labels()),
		logx.Duration("tick_interval", rs.Interval),
		logx.Duration("lookahead", rs.Engine.Lookahead),
		logx.String("calendar", calCfg.Driver),
	)
	return a, nil
}

func (a *App) opsSources() ops.Sources {
	src := ops.Sources{
		LastTick: a.engine.LastTick,
		NextTick: a.sched.Next,
		Supervisors: func() map[string][]supervisor.Stats {
			out := map[string][]supervisor.Stats{}
			if a.sup != nil {
				out["app"] = a.sup.Snapshot()
			}
			if s := a.adapter.Supervisor(); s != nil {
				out["telegram.adapter"] = s.Snapshot()
			}
			if s := a.cmdm.Supervisor(); s != nil {
				out["telegram.router"] = s.Snapshot()
			}
			return out
		},
		Health: func(context.Context) error {
			if a.sup == nil {
				return errors.New("not started")
			}
			return a.sup.Err()
		},
	}
	if a.store != nil {
		src.Recent = a.store.RecentDeliveries
	}
	return src
}

// Done is closed when the app supervisor stops, on a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.cmdm.Menu()); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	if a.store != nil {
		a.sup.Go0("storage.journal", func(c context.Context) {
			_ = storage.Journal(c, a.bus, a.store, a.log.With(logx.String("comp", "journal")))
		})
	}
	if a.ops != nil {
		a.sup.Go0("ops.metrics", func(c context.Context) { _ = a.metrics.Run(c, a.bus) })
		if err := a.ops.Start(a.opsAddr); err != nil {
			return fmt.Errorf("ops.addr: %w", err)
		}
	}
	a.sup.Go0("eventbus.log", a.logEvents)

	if err := a.startReminders(runCtx); err != nil {
		return err
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifySystemd(a.log, sdReady)
	a.log.Info("app started")
	return nil
}

// startReminders posts the startup announcement, then starts the
// scheduler, so the announcement precedes the first reminder. A failed
// post is logged by the announcer and is not fatal.
func (a *App) startReminders(ctx context.Context) error {
	if a.announcer != nil {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := a.announcer.Post(pctx)
		cancel()
		if err == nil {
			a.sup.Go0("announce", func(c context.Context) { _ = a.announcer.Hold(c) })
		}
	}
	return a.sched.Start(ctx)
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies the live-reloadable parts of a new config: logging
// and the owner list. Other sections need a restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(last, next)
			last = next
			if len(changed) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			if restart := config.NeedsRestart(changed); len(restart) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
			}

			groupLog, _ := parseGroupLog(next.Telegram.GroupLog)
			a.logs.SetChatTarget(groupLog, next.Logging.Telegram.ThreadID)
			a.logs.Apply(mapLogConfig(next))
			a.cmdm.SetOwners(next.Telegram.OwnerUserIDs)

			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// Stop shuts components down in order, each step bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)

	// The scheduler goes first so the in-flight tick can finish its sends
	// before the adapter stops.
	a.step(ctx, "scheduler", 10*time.Second, a.sched.Stop)
	a.sup.Cancel()
	a.step(ctx, "announce", 3*time.Second, func(c context.Context) error {
		if a.announcer != nil {
			return a.announcer.Retract(c)
		}
		return nil
	})
	a.step(ctx, "ops", time.Second, func(c context.Context) error {
		if a.ops != nil {
			return a.ops.Stop(c)
		}
		return nil
	})
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
		limit = max(time.Until(dl), 0)
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
