package daemon

import (
	"context"

	"github.com/nidohq/nido/internal/bus"
	"github.com/nidohq/nido/internal/catalog"
	"github.com/nidohq/nido/internal/config"
	"github.com/nidohq/nido/internal/lock"
	"github.com/nidohq/nido/internal/logging"
	"github.com/nidohq/nido/internal/notify"
	"github.com/nidohq/nido/internal/profile"
	"github.com/nidohq/nido/internal/recommend"
	"github.com/nidohq/nido/internal/status"
	"github.com/nidohq/nido/internal/store"
	"github.com/nidohq/nido/internal/userdata"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideStateMachine,
			provideLock,
			provideStore,
			provideUserData,
			provideCatalog,
			provideNotifier,
			provideRecommend,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		// Running without a config file is fine; env vars can carry everything.
		logger.Info("no config file, using defaults", zap.String("path", profile.ConfigPath()))
		cfg = &config.Config{}
	}
	config.ApplyEnv(cfg, profile.EnvPath())
	return cfg
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideUserData(db *store.DB, b *bus.Bus, logger *zap.Logger) *userdata.Store {
	return userdata.New(db, b, logger)
}

func provideCatalog(cfg *config.Config, logger *zap.Logger) *catalog.Client {
	return catalog.New(cfg.Catalog.Endpoint, cfg.Catalog.Project, cfg.Catalog.APIKey, logger)
}

func provideNotifier(ud *userdata.Store, b *bus.Bus, logger *zap.Logger) *notify.Notifier {
	return notify.New(ud, b, logger)
}

func provideRecommend(ud *userdata.Store, cc *catalog.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *recommend.Engine {
	return recommend.NewEngine(recommend.Options{
		Source:      ud,
		Resolver:    cc,
		Checkpoints: db,
		Bus:         b,
		Logger:      logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, ud *userdata.Store, notifier *notify.Notifier, engine *recommend.Engine, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Notifier first, so mutations made during startup still feed it.
			notifier.Start(context.Background())

			_ = machine.Transition(status.Hydrating)
			degraded := ud.Hydrate()
			if degraded > 0 {
				logger.Warn("hydration lost collections", zap.Int("degraded", degraded))
				_ = machine.Transition(status.Degraded)
			} else {
				_ = machine.Transition(status.Ready)
			}

			// Durable write failures degrade; the next clean write recovers.
			ud.OnPersistResult(func(err error) {
				if err != nil {
					_ = machine.Transition(status.Degraded)
				} else if machine.Current() == status.Degraded {
					_ = machine.Transition(status.Ready)
				}
			})

			engine.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			notifier.Stop()
			ud.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
