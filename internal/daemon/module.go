package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/campussublets/subletd/internal/api"
	"github.com/campussublets/subletd/internal/bus"
	"github.com/campussublets/subletd/internal/config"
	"github.com/campussublets/subletd/internal/lock"
	"github.com/campussublets/subletd/internal/logging"
	"github.com/campussublets/subletd/internal/msgsync"
	"github.com/campussublets/subletd/internal/profile"
	"github.com/campussublets/subletd/internal/profiles"
	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/saved"
	"github.com/campussublets/subletd/internal/status"
	"github.com/campussublets/subletd/internal/store"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideStore,
			provideSession,
			provideClient,
			provideFeedDialer,
			provideNotifier,
			provideEngine,
			provideCoordinator,
			provideProfileCache,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := profile.ConfigPath(p.ProfileName)
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		// First run: seed a config file for the user to fill in.
		cfg = &config.Config{ListenAddr: config.DefaultListenAddr}
		if err := config.Save(path, cfg); err != nil {
			return nil, err
		}
		logger.Info("created default config", zap.String("path", path))
	} else if err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		logger.Info("no user configured, running signed out")
	}
	return cfg, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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

func provideSession(cfg *config.Config) remote.Session {
	return remote.StaticSession{ID: cfg.UserID, Token: cfg.AccessToken}
}

func provideClient(cfg *config.Config, session remote.Session) *remote.Client {
	return remote.NewClient(cfg.BackendURL, cfg.APIKey, session)
}

// feedDialer adapts the websocket feed client to the engine's dialer
// interface.
type feedDialer struct {
	client *remote.FeedClient
}

func (d feedDialer) Subscribe(ctx context.Context, userID string) (msgsync.Feed, error) {
	sub, err := d.client.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func provideFeedDialer(cfg *config.Config, session remote.Session) msgsync.FeedDialer {
	return feedDialer{client: remote.NewFeedClient(cfg.BackendURL, cfg.APIKey, session)}
}

func provideNotifier(cfg *config.Config) *remote.Notifier {
	return remote.NewNotifier(cfg.NotifyURL, cfg.APIKey)
}

func provideEngine(db *store.DB, client *remote.Client, dialer msgsync.FeedDialer, notifier *remote.Notifier, session remote.Session, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *msgsync.Engine {
	return msgsync.NewEngine(db, client, dialer, notifier, session, b, machine, logger, msgsync.Options{})
}

func provideCoordinator(db *store.DB, client *remote.Client, session remote.Session, b *bus.Bus, logger *zap.Logger) *saved.Coordinator {
	return saved.NewCoordinator(db, client, session, b, logger)
}

func provideProfileCache(db *store.DB, client *remote.Client, logger *zap.Logger) *profiles.Cache {
	return profiles.NewCache(context.Background(), db, client, logger)
}

func provideServer(engine *msgsync.Engine, coord *saved.Coordinator, cache *profiles.Cache, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *api.Server {
	return api.NewServer(engine, coord, cache, b, machine, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *api.Server, lk *lock.Lock, engine *msgsync.Engine, coord *saved.Coordinator, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the sync engine (subscribe loop plus initial fetch).
			engine.Start(context.Background())

			// Saved listings hydrate in the background; toggles that race
			// the resync are protected by the coordinator's tokens.
			go func() {
				if err := coord.Resync(context.Background()); err != nil {
					logger.Warn("saved listings resync failed", zap.Error(err))
				}
			}()

			go func() {
				if err := srv.Listen(cfg.ListenAddr); err != nil {
					logger.Error("local API server error", zap.Error(err))
				}
			}()
			logger.Info("local API listening", zap.String("addr", cfg.ListenAddr))

			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			if err := srv.Shutdown(); err != nil {
				logger.Warn("error stopping local API", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
