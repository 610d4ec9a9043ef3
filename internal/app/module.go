// Package app assembles the process from its components.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/danhigham/tgscope/internal/authflow"
	"github.com/danhigham/tgscope/internal/config"
	"github.com/danhigham/tgscope/internal/connpool"
	"github.com/danhigham/tgscope/internal/fetch"
	"github.com/danhigham/tgscope/internal/gateway"
	"github.com/danhigham/tgscope/internal/logging"
	"github.com/danhigham/tgscope/internal/store"
	"github.com/danhigham/tgscope/internal/telegram"
)

// Params holds what the command line resolved before the graph is built.
type Params struct {
	ConfigPath string
	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config
	// Sweep runs the expired-login sweeper for the life of the process.
	Sweep bool
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("tgscope",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideStore,
			provideDialer,
			providePool,
			provideFlow,
			provideSweeper,
			provideDirectory,
			provideHistory,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Options is Module plus the zap-backed fx event logger.
func Options(p Params) fx.Option {
	return fx.Options(
		Module(p),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(p.ConfigPath); err != nil {
			return nil, err
		}
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFile)
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Database.Path)
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
		logger.Debug("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Debug("store initialized", zap.String("path", cfg.Database.Path))
	return db, nil
}

func provideDialer(cfg *config.Config, logger *zap.Logger) telegram.Dialer {
	return telegram.NewGotdDialer(cfg.Telegram, logger.Named("telegram"))
}

func providePool(dialer telegram.Dialer, logger *zap.Logger) *connpool.Pool {
	factory := connpool.NewFactory(dialer, connpool.DefaultPolicy(), logger.Named("factory"))
	return connpool.New(factory, logger.Named("pool"))
}

func provideFlow(cfg *config.Config, db *store.DB, dialer telegram.Dialer, logger *zap.Logger) *authflow.Flow {
	return authflow.New(db, dialer, cfg.Auth.CodeTTL, logger.Named("auth"))
}

func provideSweeper(cfg *config.Config, db *store.DB, logger *zap.Logger) *authflow.Sweeper {
	return authflow.NewSweeper(db, cfg.Auth.SweepInterval, logger.Named("sweeper"))
}

func provideDirectory(pool *connpool.Pool, logger *zap.Logger) *fetch.Directory {
	return fetch.NewDirectory(pool, logger.Named("fetch"))
}

func provideHistory(pool *connpool.Pool, logger *zap.Logger) *fetch.History {
	return fetch.NewHistory(pool, logger.Named("fetch"))
}

func provideGateway(
	flow *authflow.Flow,
	db *store.DB,
	pool *connpool.Pool,
	dir *fetch.Directory,
	hist *fetch.History,
	logger *zap.Logger,
) *gateway.Service {
	return gateway.New(flow, db, pool, dir, hist, logger.Named("gateway"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, sweeper *authflow.Sweeper, pool *connpool.Pool, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if p.Sweep {
				sweeper.Start(context.Background())
				logger.Info("sweeper started")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			sweeper.Stop()
			pool.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
