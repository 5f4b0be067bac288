package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/duet/internal/account"
	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/config"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/lock"
	"github.com/matheus3301/duet/internal/logging"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/presence"
	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/session"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/store"
	dsync "github.com/matheus3301/duet/internal/sync"
	"github.com/matheus3301/duet/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.duet/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideMetrics,
			provideBus,
			provideLock,
			provideStore,
			provideState,
			provideRESTClient,
			provideReconciler,
			providePresence,
			provideTyping,
			provideManager,
			provideSessionService,
			provideChatService,
			provideMessageService,
			provideSyncService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogLevel, session.LogPath(p.SessionName), p.SessionName)
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideBus(m *metrics.Metrics) *bus.Bus {
	b := bus.New()
	b.OnDrop(func(bus.Event) { m.BusDrop() })
	return b
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock as a dependency so the cache is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
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

func provideState(b *bus.Bus, db *store.DB, logger *zap.Logger) *state.Container {
	return state.New(b, logger, state.WithArchive(db))
}

func provideRESTClient(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *restapi.Client {
	return restapi.New(restapi.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.RequestTimeout.Duration,
	}, m, logger)
}

func provideReconciler(c *state.Container, m *metrics.Metrics, logger *zap.Logger) *dsync.Reconciler {
	return dsync.NewReconciler(c, m, logger)
}

func providePresence(c *state.Container, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(c, logger)
}

func provideTyping(cfg *config.Config, c *state.Container, logger *zap.Logger) *typing.Aggregator {
	return typing.NewAggregator(c, cfg.TypingWindow.Duration, logger)
}

type managerIn struct {
	fx.In

	Params     Params
	Config     *config.Config
	API        *restapi.Client
	State      *state.Container
	Reconciler *dsync.Reconciler
	Presence   *presence.Tracker
	Typing     *typing.Aggregator
	Store      *store.DB
	Bus        *bus.Bus
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func provideManager(in managerIn) *account.Manager {
	return account.New(account.Config{
		CredentialPath: session.CredentialsPath(in.Params.SessionName),
		Gateway: gateway.Config{
			URL:       in.Config.GatewayURL,
			BaseDelay: in.Config.ReconnectBase.Duration,
			MaxDelay:  in.Config.ReconnectMax.Duration,
		},
	}, account.Deps{
		API:        in.API,
		State:      in.State,
		Reconciler: in.Reconciler,
		Presence:   in.Presence,
		Typing:     in.Typing,
		Cache:      in.Store,
		Bus:        in.Bus,
		Metrics:    in.Metrics,
		Logger:     in.Logger,
	})
}

func provideSessionService(p Params, m *account.Manager, c *state.Container) *api.SessionService {
	return api.NewSessionService(p.SessionName, m, c)
}

func provideChatService(m *account.Manager, c *state.Container, p *presence.Tracker, t *typing.Aggregator, rest *restapi.Client) *api.ChatService {
	return api.NewChatService(m, c, p, t, rest)
}

func provideMessageService(m *account.Manager, c *state.Container, db *store.DB) *api.MessageService {
	return api.NewMessageService(m, c, db)
}

func provideSyncService(m *account.Manager, b *bus.Bus, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(m, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, c *state.Container, mgr *account.Manager, m *metrics.Metrics, logger *zap.Logger) {
	var metricsSrv *http.Server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Serve(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if cfg.MetricsAddr != "" {
				ln, err := net.Listen("tcp", cfg.MetricsAddr)
				if err != nil {
					return err
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", m.Handler())
				metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server error", zap.Error(err))
					}
				}()
				logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
			}

			// Resume a stored session; without one the daemon waits for Login.
			return mgr.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			mgr.Stop()
			srv.Stop(ctx)
			if metricsSrv != nil {
				_ = metricsSrv.Shutdown(ctx)
			}
			c.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
