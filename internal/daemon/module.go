package daemon

import (
	"context"
	"io"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/config"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/convlist"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/feed"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/lock"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/logging"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/poll"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/readstate"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/source"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/status"
	intsync "github.com/Novaisolutions/TOI-MONITOR-sub001/internal/sync"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/tenant"
	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/thread"
)

// Params holds the resolved tenant configuration passed to the fx module.
type Params struct {
	Tenant string
}

// Pollers bundles the two fallback drivers so the lifecycle hook can
// start and stop them together.
type Pollers struct {
	Conversations *poll.Driver
	Messages      *poll.Driver
}

// Module returns the fx module for the monitor daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideSource,
			provideFeed,
			provideConvList,
			provideThread,
			provideReadState,
			provideEngine,
			providePollers,
			NewService,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(tenant.ConfigPath())
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(tenant.LogPath(p.Tenant), p.Tenant)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := tenant.EnsureDir(p.Tenant); err != nil {
		return nil, err
	}
	logger.Info("acquiring tenant lock", zap.String("tenant", p.Tenant))
	l, err := lock.Acquire(tenant.Dir(p.Tenant))
	if err != nil {
		return nil, err
	}
	logger.Info("tenant lock acquired")
	return l, nil
}

func provideSource(p Params, cfg *config.Config, logger *zap.Logger) (source.RowSource, error) {
	if cfg.Source.Driver == "postgres" {
		src, err := source.OpenPostgres(cfg.Source.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("row source ready", zap.String("driver", "postgres"))
		return src, nil
	}

	dbPath := tenant.CacheDBPath(p.Tenant)
	src, err := source.OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := src.Migrate()
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("row source ready", zap.String("driver", "sqlite"), zap.String("path", dbPath))
	return src, nil
}

func provideFeed(cfg *config.Config, logger *zap.Logger) feed.Listener {
	if cfg.Realtime.URL == "" {
		logger.Info("no realtime endpoint configured, using in-process feed")
		return feed.NewMemory()
	}
	return feed.NewSocket(cfg.Realtime.URL, logger)
}

func provideConvList(src source.RowSource, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *convlist.Store {
	return convlist.New(src, b, logger, cfg.Sync.ConversationPageSize, cfg.SearchDebounce())
}

func provideThread(src source.RowSource, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *thread.Store {
	return thread.New(src, b, logger, cfg.Sync.MessagePageSize)
}

func provideReadState(src source.RowSource, convos *convlist.Store, threads *thread.Store, logger *zap.Logger) *readstate.Coordinator {
	return readstate.New(src, convos, threads, logger)
}

func provideEngine(src source.RowSource, f feed.Listener, convos *convlist.Store, threads *thread.Store, m *status.Machine, logger *zap.Logger) *intsync.Engine {
	return intsync.New(src, f, convos, threads, m, logger)
}

func providePollers(engine *intsync.Engine, convos *convlist.Store, cfg *config.Config, logger *zap.Logger) Pollers {
	cp := poll.NewDriver("conversations", cfg.PollInterval(), engine.PollConversations, logger)
	cp.Suppress(convos.SearchActive)
	mp := poll.NewDriver("messages", cfg.PollInterval(), engine.PollMessages, logger)
	return Pollers{Conversations: cp, Messages: mp}
}

func registerLifecycle(lc fx.Lifecycle, svc *Service, lk *lock.Lock, src source.RowSource, f feed.Listener, engine *intsync.Engine, pollers Pollers, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := engine.Start(context.Background()); err != nil {
				return err
			}
			pollers.Conversations.Start(context.Background())
			pollers.Messages.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			pollers.Messages.Stop()
			pollers.Conversations.Stop()
			engine.Stop()
			if closer, ok := f.(io.Closer); ok {
				_ = closer.Close()
			}
			if err := src.Close(); err != nil {
				logger.Warn("error closing row source", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
