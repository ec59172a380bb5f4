package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/backend/memory"
	"github.com/MrSnakeDoc/marks/internal/backend/postgres"
	"github.com/MrSnakeDoc/marks/internal/backend/redis"
	"github.com/MrSnakeDoc/marks/internal/config"
	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/sse"
	"github.com/MrSnakeDoc/marks/internal/logger"
	"github.com/MrSnakeDoc/marks/internal/mutation"
	"github.com/MrSnakeDoc/marks/internal/scheduler"
	"github.com/MrSnakeDoc/marks/internal/session"
	"github.com/MrSnakeDoc/marks/internal/syncer"
	"github.com/MrSnakeDoc/marks/internal/version"
)

// ErrNotSignedIn is returned by commands that need a stored session.
var ErrNotSignedIn = errors.New("not signed in, run `marks serve` and sign in first")

type App struct {
	cfg    *config.Config
	logger logger.Logger

	redisClient *goredis.Client
	backend     backend.Backend
	provider    *auth.Provider

	Session    *session.Manager
	Syncer     *syncer.Syncer
	Controller *mutation.Controller
	resyncer   *scheduler.Resyncer
	hub        *sse.Hub
	server     *httpserver.Server

	// scope bounds change subscriptions; it outlives any single request.
	scope  context.Context
	cancel context.CancelFunc
}

// New connects the configured backend and session store and wires the
// session manager, the store sync and the mutation controller together.
func New(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: loggerClient, hub: sse.NewHub()}

	if cfg.NeedsRedis() {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		rc, err := redis.Connect(ctx, redis.OptionsFrom(cfg), loggerClient)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = rc
	}

	be, err := a.openBackend(ctx)
	if err != nil {
		a.closeRedis()
		return nil, err
	}
	a.backend = be

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session tokens: %w", err)
	}
	if cfg.JWTSecret == "" {
		loggerClient.Warn("MARKS_JWT_SECRET not set, sessions will not survive a restart")
	}
	a.provider = auth.NewProvider(auth.Options{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		UserInfoURL:  cfg.OAuthUserInfoURL,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       cfg.OAuthScopes,
		SessionKey:   cfg.SessionKey,
		SessionTTL:   cfg.SessionTTL,
	}, tokens, a.sessionStore(), loggerClient)

	a.scope, a.cancel = context.WithCancel(context.Background())
	a.Session = session.New(a.provider, loggerClient)
	a.Syncer = syncer.New(be, be, syncer.Options{
		Attempts: cfg.RefreshAttempts,
		Backoff:  cfg.RefreshBackoff,
	}, loggerClient)
	a.Controller = mutation.New(be, a.Syncer, loggerClient)
	a.resyncer = scheduler.NewResyncer(a.Syncer, loggerClient, cfg.ResyncInterval)

	a.Session.OnChange(func(id *domain.Identity) {
		a.Controller.SetIdentity(id)
		a.Syncer.SetIdentity(a.scope, id)
		a.hub.Publish()
	})
	a.Syncer.OnChange(a.hub.Publish)
	a.Controller.OnChange(a.hub.Publish)

	a.server = httpserver.New(cfg, loggerClient, deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		Session:      a.Session,
		Syncer:       a.Syncer,
		Controller:   a.Controller,
		Exchanger:    a.provider,
		Storage:      be,
		Resyncer:     a.resyncer,
		Hub:          a.hub,
	})

	return a, nil
}

func (a *App) openBackend(ctx context.Context) (backend.Backend, error) {
	switch a.cfg.Backend {
	case config.BackendRedis:
		a.logger.Info("using redis backend")
		return redis.NewStore(a.redisClient, a.logger), nil
	case config.BackendPostgres:
		a.logger.Info("using postgres backend")
		st, err := postgres.Open(ctx, a.cfg.DatabaseURL, a.cfg.DatabaseMaxConns, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	default:
		a.logger.Warn("using in-memory backend, bookmarks are lost on exit")
		return memory.New(), nil
	}
}

func (a *App) sessionStore() auth.SessionStore {
	switch a.cfg.SessionStore {
	case config.SessionDisk:
		a.logger.Debug("session store on disk", logger.String("dir", a.cfg.SessionDir))
		return auth.NewDiskStore(a.cfg.SessionDir)
	case config.SessionRedis:
		return auth.NewRedisStore(a.redisClient)
	default:
		return auth.NewMemoryStore()
	}
}

// Run serves the UI until ctx is done or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting marks %s on %s", version.Version, a.server.Addr())
	a.logger.Info(version.String())
	a.logger.Info("access restrictions",
		logger.Strings("allowed_cidrs", a.cfg.AllowedCIDRS),
		logger.Strings("allowed_hosts", a.cfg.AllowedHosts),
		logger.Bool("trust_proxy", a.cfg.TrustProxy))
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.resyncer.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := a.Session.Start(gctx); err != nil {
			// nothing is fatal at runtime, the page still offers sign-in
			a.logger.Warn("session manager not following auth changes", logger.Error(err))
		}
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		a.resyncer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("✅ marks stopped cleanly")
	return nil
}

// Close releases the subscription and every connection. Safe to call twice.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Syncer != nil {
		_ = a.Syncer.Close()
	}
	if a.provider != nil {
		a.provider.Close()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warnf("failed to close backend: %v", err)
		}
		a.backend = nil
	}
	a.closeRedis()
}

func (a *App) closeRedis() {
	if a.redisClient == nil {
		return
	}
	if err := a.redisClient.Close(); err != nil {
		a.logger.Warnf("failed to close redis: %v", err)
	} else {
		a.logger.Info("✅ Redis closed cleanly")
	}
	a.redisClient = nil
}
