// Package daemon composes the bridge out of its parts with fx and owns
// startup/shutdown ordering.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hondutalent/bridge/internal/analysis"
	"github.com/hondutalent/bridge/internal/bus"
	"github.com/hondutalent/bridge/internal/config"
	"github.com/hondutalent/bridge/internal/crm"
	"github.com/hondutalent/bridge/internal/gateway"
	"github.com/hondutalent/bridge/internal/ingest"
	"github.com/hondutalent/bridge/internal/llm"
	"github.com/hondutalent/bridge/internal/lock"
	"github.com/hondutalent/bridge/internal/logging"
	"github.com/hondutalent/bridge/internal/outbound"
	"github.com/hondutalent/bridge/internal/registry"
	"github.com/hondutalent/bridge/internal/reply"
	"github.com/hondutalent/bridge/internal/store"
	"github.com/hondutalent/bridge/internal/wa"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCRM,
			provideLLM,
			provideFactory,
			provideRegistry,
			provideReplyEngine,
			provideAnalysisQueue,
			provideAnalyzer,
			provideIngestEngine,
			provideQueueWorker,
			provideGateway,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	return config.Load(p.ConfigPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.DBPath())
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
	return db, nil
}

func provideCRM(cfg *config.Config) *crm.Client {
	return crm.New(cfg.CRM.BaseURL, cfg.CRM.APIKey, cfg.CRM.Timeout.Std())
}

func provideLLM(cfg *config.Config) *llm.Client {
	return llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey)
}

func provideFactory(cfg *config.Config, logger *zap.Logger) *wa.Factory {
	return wa.NewFactory(cfg, logger)
}

func provideRegistry(factory *wa.Factory, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *registry.Registry {
	return registry.New(factory, cfg.Proxies, db, b, wa.CanonicalAddress, logger)
}

func provideReplyEngine(db *store.DB, completions *llm.Client, tools *crm.Client, logger *zap.Logger) *reply.Engine {
	return reply.NewEngine(db, completions, tools, logger)
}

func provideAnalysisQueue() *analysis.Queue {
	return analysis.NewQueue()
}

func provideAnalyzer(db *store.DB, completions *llm.Client, queue *analysis.Queue, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *analysis.Analyzer {
	return analysis.NewAnalyzer(db, completions, queue, b, cfg.LLM.AnalysisModel, logger)
}

func provideIngestEngine(db *store.DB, b *bus.Bus, replier *reply.Engine, reg *registry.Registry, queue *analysis.Queue, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, replier, reg, queue, logger)
}

func provideQueueWorker(db *store.DB, reg *registry.Registry, notifier *crm.Client, b *bus.Bus, logger *zap.Logger) *outbound.Worker {
	return outbound.NewWorker(db, reg, notifier, b, logger)
}

func provideGateway(cfg *config.Config, db *store.DB, reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *gateway.Server {
	return gateway.NewServer(cfg, db, reg, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *gateway.Server,
	lk *lock.Lock,
	reg *registry.Registry,
	engine *ingest.Engine,
	worker *outbound.Worker,
	analyzer *analysis.Analyzer,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Ingest must be subscribed before any session can connect.
			engine.Start(context.Background())

			if err := srv.Start(ctx); err != nil {
				return err
			}

			worker.Start(context.Background(), cfg.Workers.QueueInterval.Std())
			analyzer.Start(context.Background(), cfg.Workers.AnalysisInterval.Std())

			// Reconnect sessions that already paired.
			go func() {
				if n := reg.Restore(context.Background(), cfg.SessionsDir()); n > 0 {
					logger.Info("restored sessions", zap.Int("count", n))
				}
			}()

			logger.Info("bridge daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			analyzer.Stop()
			worker.Stop()

			for _, snap := range reg.List() {
				if err := reg.Close(ctx, snap.SessionID); err != nil {
					logger.Warn("close session", zap.String("session", snap.SessionID), zap.Error(err))
				}
			}

			engine.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("release lock", zap.Error(err))
			}
			logger.Info("bridge daemon stopped")
			return nil
		},
	})
}
