// Package app wires spawnbot's components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"spawnbot/internal/catalog"
	"spawnbot/internal/config"
	"spawnbot/internal/eventbus"
	"spawnbot/internal/janitor"
	"spawnbot/internal/ledger"
	"spawnbot/internal/ops"
	rtsup "spawnbot/internal/runtime/supervisor"
	"spawnbot/internal/spawn"
	"spawnbot/internal/storage"
	"spawnbot/internal/transport"
	"spawnbot/internal/transport/telegram"
	logx "spawnbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log       logx.Logger
	logCloser io.Closer

	store   storage.Store
	adapter *telegram.Adapter
	bus     eventbus.Bus

	reg      *spawn.Registry
	sched    *spawn.Scheduler
	exec     *spawn.Executor
	resolver *spawn.Resolver
	recovery *spawn.Recovery

	ops *ops.Service
	jan *janitor.Service

	updates chan transport.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	opts, err := buildSpawnOptions(cfg.Spawn)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	clock := spawn.SystemClock{}
	engineLog := log.With(logx.String("comp", "spawn"))

	reg := spawn.NewRegistry(store, engineLog)
	sched := spawn.NewScheduler(opts, clock, store, reg, engineLog)
	exec := spawn.NewExecutor(opts, clock, store, reg, cat, adapter, sched, bus, engineLog)
	sched.SetFireFunc(func(ctx context.Context, guildID int64) {
		exec.Fire(ctx, guildID, "", false)
	})
	led := ledger.New(store, log.With(logx.String("comp", "ledger")))
	resolver := spawn.NewResolver(opts, clock, store, reg, led, adapter, sched, bus, engineLog)
	recovery := spawn.NewRecovery(opts, clock, store, reg, cat, adapter, sched, bus, engineLog)

	opsSvc := ops.New(log.With(logx.String("comp", "ops")),
		adapter, store, cat, exec, sched, resolver, led, cfg.Telegram.OwnerUserIDs)

	jan := janitor.New(janitor.Config{
		Enabled:  cfg.Janitor.IsEnabled(),
		Schedule: cfg.Janitor.Schedule,
	}, store, reg, bus, log.With(logx.String("comp", "janitor")))

	return &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logCloser: logCloser,
		store:     store,
		adapter:   adapter,
		bus:       bus,
		reg:       reg,
		sched:     sched,
		exec:      exec,
		resolver:  resolver,
		recovery:  recovery,
		ops:       opsSvc,
		jan:       jan,
		updates:   make(chan transport.Message, 256),
	}, nil
}

func buildSpawnOptions(sc config.SpawnConfig) (spawn.Options, error) {
	minIv, err := config.ParseDurationField("spawn.default_min_interval", sc.DefaultMinInterval)
	if err != nil {
		return spawn.Options{}, err
	}
	maxIv, err := config.ParseDurationField("spawn.default_max_interval", sc.DefaultMaxInterval)
	if err != nil {
		return spawn.Options{}, err
	}
	debounce, err := config.ParseDurationField("spawn.debounce_window", sc.DebounceWindow)
	if err != nil {
		return spawn.Options{}, err
	}
	drift, err := config.ParseDurationField("spawn.recovery_drift_tolerance", sc.RecoveryDriftTolerance)
	if err != nil {
		return spawn.Options{}, err
	}
	return spawn.Options{
		CatchToken:             sc.CatchToken,
		DefaultMinInterval:     minIv,
		DefaultMaxInterval:     maxIv,
		DebounceWindow:         debounce,
		RecoveryDriftTolerance: drift,
		AssetsDir:              sc.AssetsDir,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := buildSpawnOptions(cfg.Spawn); err != nil {
			return err
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sched.Start(a.sup.Context())

	// Revalidate durable state before any timer can fire for those guilds.
	if err := a.recovery.Run(a.sup.Context()); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	if err := a.jan.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}

	a.sup.Go("ops.dispatch", func(c context.Context) error {
		return a.ops.DispatchLoop(c, a.updates)
	})

	// Config hot-reload fan-out. Engine tunables are constructor-injected,
	// so only the live-appliable pieces change here; the rest takes effect
	// on restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.ops.SetOwners(newCfg.Telegram.OwnerUserIDs)
				a.log.Info("config applied (engine tunables need a restart)")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("janitor", 2*time.Second, func(c context.Context) error { a.jan.Stop(c); return nil })
	step("scheduler", time.Second, func(context.Context) error { a.sched.Shutdown(); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	a.log.Info("stopped")
	return nil
}
