package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/omnidesk/omnisync/internal/bus"
	"github.com/omnidesk/omnisync/internal/cache"
	"github.com/omnidesk/omnisync/internal/config"
	"github.com/omnidesk/omnisync/internal/gaps"
	"github.com/omnidesk/omnisync/internal/lock"
	"github.com/omnidesk/omnisync/internal/logging"
	"github.com/omnidesk/omnisync/internal/provider"
	"github.com/omnidesk/omnisync/internal/store"
	intsync "github.com/omnidesk/omnisync/internal/sync"
)

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCache,
			provideProviderClient,
			provideEngine,
			provideDetector,
			NewScheduler,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogFile, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.DBPath()
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

func provideCache(cfg *config.Config) *cache.Cache {
	return cache.New(cache.Config{
		ListEntries:         cfg.Cache.ListEntries,
		ConversationEntries: cfg.Cache.ConversationEntries,
		PageEntries:         cfg.Cache.PageEntries,
		TTL:                 cfg.Cache.TTL.Duration,
	})
}

func provideProviderClient(cfg *config.Config) provider.Client {
	return provider.NewHTTPClient(cfg.Provider.BaseURL, cfg.Provider.Token)
}

func provideEngine(db *store.DB, client provider.Client, c *cache.Cache, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *intsync.Engine {
	return intsync.New(db, client, c, b, logger, intsync.Config{
		PageSize:     cfg.Sync.PageSize,
		MaxRetries:   cfg.Sync.MaxRetries,
		RetryBackoff: cfg.Sync.RetryBackoff.Duration,
	})
}

func provideDetector(db *store.DB, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *gaps.Detector {
	return gaps.New(db, b, logger, gaps.Config{
		TimeGapThreshold: cfg.Gaps.TimeGapThreshold.Duration,
		RecencyWindow:    cfg.Gaps.RecencyWindow.Duration,
		Cooldown:         cfg.Gaps.Cooldown.Duration,
	})
}

func registerLifecycle(lc fx.Lifecycle, sched *Scheduler, db *store.DB, lk *lock.Lock, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting", zap.Int("accounts", len(cfg.Accounts)))
			sched.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			sched.Stop()
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
