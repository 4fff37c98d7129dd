// Package app wires configuration, the Telegram transport, the schedule
// registry, the command bot and the announcement cron into one process.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"agendabot/internal/announce"
	"agendabot/internal/bot"
	"agendabot/internal/config"
	"agendabot/internal/eventbus"
	"agendabot/internal/language"
	"agendabot/internal/registry"
	rtsup "agendabot/internal/runtime/supervisor"
	"agendabot/internal/schedule"
	"agendabot/internal/storage"
	"agendabot/internal/transport"
	"agendabot/internal/transport/telegram"
	logx "agendabot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	clk  clock.Clock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	servers *registry.Registry
	bot     *bot.Bot
	ann     *announcer

	watchMu     sync.Mutex
	watchCancel context.CancelFunc

	updates chan transport.Update
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	clk     clock.Clock
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock replaces the wall clock used for schedules and reminders.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.clk == nil {
		o.clk = clock.New()
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.PollTimeout(),
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	servers := registry.New(cfg.Servers.Dir, log.With(logx.String("comp", "registry")), bus)

	a := &App{
		cfgm:    cfgm,
		clk:     o.clk,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		servers: servers,
		ann:     newAnnouncer(log.With(logx.String("comp", "announce"))),
		updates: make(chan transport.Update, 256),
	}
	a.bot = bot.New(bot.Config{
		Adapter:  ad,
		Servers:  servers,
		Settings: botSettings(cfg),
		Clock:    o.clk,
		Bus:      bus,
		Log:      log.With(logx.String("comp", "bot")),
	})
	a.ann.SetRunner(a.newRunner(cfg))
	return a, nil
}

func botSettings(cfg *config.Config) bot.Settings {
	return bot.Settings{
		Prefix:    cfg.Telegram.CommandPrefix,
		MaxLength: cfg.Paging.MaxLength,
		MaxFields: cfg.Paging.MaxFields,
	}
}

func (a *App) newRunner(cfg *config.Config) *announce.Runner {
	log := a.log.With(logx.String("comp", "announce"))
	disp := announce.NewDispatcher(a.adapter,
		announce.WithRate(cfg.Announcements.RatePerSec),
		announce.WithSendTimeout(cfg.SendTimeout()),
		announce.WithLogger(log),
	)
	return announce.NewRunner(announce.RunnerConfig{
		Source:     a.servers,
		Dispatcher: disp,
		Clock:      a.clk,
		Store:      a.store,
		Bus:        a.bus,
		Log:        log,
	})
}

// Servers exposes the loaded schedule registry.
func (a *App) Servers() *registry.Registry { return a.servers }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app's run context ends.
func (a *App) Done() <-chan struct{} { return a.sup.Context().Done() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	// A missing or broken directory is not fatal: the bot still answers
	// !hello and the watcher picks the files up once they appear.
	if rep, err := a.servers.Reload(); err != nil && rep.Loaded == 0 {
		a.log.Warn("no servers loaded at startup", logx.String("dir", a.servers.Dir()), logx.Err(err))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Subscribe before reading the config Start applies: a reload committed
	// after this point is delivered and diffed against cfg.
	sub, unsubCfg := a.cfgm.Subscribe(8)
	cfg := a.cfgm.Get()
	en, _ := language.Lookup(language.EN)
	a.sup.Go0("menu.update", func(c context.Context) { a.bot.UpdateMenu(c, en) })

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.bot.DispatchLoop(c, a.updates)
	})

	if err := a.ann.Start(a.sup.Context(), cfg.Announcements.Schedule); err != nil {
		unsubCfg()
		return err
	}

	a.restartServersWatch(cfg)

	// Debug-level event log; frequent ticks would be noise at info.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
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
	})

	// hot reload config fan-out
	lastApplied := cfg
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("servers", a.servers.Len()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if changed("telegram") && (oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout) {
		a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.bot.SetSettings(botSettings(newCfg))

	if changed("announcements") {
		a.ann.SetRunner(a.newRunner(newCfg))
		if err := a.ann.Start(ctx, newCfg.Announcements.Schedule); err != nil {
			a.log.Warn("invalid announcement schedule; keeping previous", logx.Err(err))
		}
	}

	if changed("servers") {
		a.servers.SetDir(newCfg.Servers.Dir)
		a.reloadServers()
		a.restartServersWatch(newCfg)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) reloadServers() {
	// Reload already logs and publishes the outcome.
	_, _ = a.servers.Reload()
}

// restartServersWatch (re)starts the servers directory watcher for cfg, or
// stops it when watching is off.
func (a *App) restartServersWatch(cfg *config.Config) {
	a.watchMu.Lock()
	defer a.watchMu.Unlock()
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	if !cfg.Servers.Watch {
		return
	}

	dir := filepath.Clean(cfg.Servers.Dir)
	wctx, cancel := context.WithCancel(a.sup.Context())
	a.watchCancel = cancel
	w := &config.DirWatcher{
		Dir:      dir,
		Match:    func(name string) bool { return schedule.IsServerFile(filepath.Base(name)) },
		OnChange: a.reloadServers,
		Debounce: 500 * time.Millisecond,
		Log:      a.log.With(logx.String("comp", "servers.watch")),
	}
	a.sup.Go("servers.watch", func(context.Context) error {
		return w.Run(wctx)
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "announcer", 5*time.Second, func(c context.Context) error { a.ann.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	for _, st := range a.sup.Snapshot() {
		if st.Restarts > 0 || st.Panics > 0 {
			a.log.Debug("task summary",
				logx.String("task", st.Name),
				logx.Int("restarts", st.Restarts),
				logx.Int("panics", st.Panics),
				logx.String("last_err", st.LastErr),
			)
		}
	}
	if n := a.bus.Dropped(); n > 0 {
		a.log.Debug("event bus dropped events", logx.Uint64("dropped", n))
	}
	if a.logs != nil {
		if n := a.logs.ChatDropped(); n > 0 {
			a.log.Debug("chat log lines dropped", logx.Uint64("dropped", n))
		}
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max(limit, 0))
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
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
