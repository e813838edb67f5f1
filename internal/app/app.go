package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/internal/config"
	"github.com/ledgerwise/authcore/internal/httpapi"
	"github.com/ledgerwise/authcore/internal/infra/logger"
	"github.com/ledgerwise/authcore/internal/infra/redisconn"
	promexport "github.com/ledgerwise/authcore/metrics/export/prometheus"
	"github.com/ledgerwise/authcore/userstore/memory"
	"github.com/ledgerwise/authcore/userstore/sqlite"
	"go.uber.org/zap"
)

// Application owns every long-lived resource of the server process.
type Application struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	embedded *miniredis.Miniredis
	redis    *redisconn.Conn
	users    authcore.UserProvider
	closers  []func() error
	engine   *authcore.Engine
	handler  http.Handler
}

// New wires the application from cfg. On error every resource opened so far
// is released.
func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name))

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	redisAddr := cfg.Redis.Addr
	if cfg.Redis.Embedded {
		a.embedded, err = miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		redisAddr = a.embedded.Addr()
		log.Warn("using embedded redis; counters are lost on restart")
	}

	a.redis, err = redisconn.Open(ctx, redisconn.Settings{
		Addr:       redisAddr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		TLSEnabled: cfg.Redis.TLSEnabled,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	switch cfg.Store.Driver {
	case "memory":
		a.users = memory.New(nil)
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.users = store
		a.closers = append(a.closers, store.Close)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	a.engine, err = authcore.New().
		WithConfig(cfg.EngineConfig()).
		WithRedis(a.redis.Client()).
		WithUserProvider(a.users).
		WithAuditSink(authcore.NewZapSink(log)).
		WithLogger(log.Named("authcore")).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	a.handler = httpapi.NewRouter(httpapi.Options{
		Engine:     a.engine,
		Logger:     log,
		TrustProxy: cfg.App.TrustProxy,
		Health:     a.redis,
		Metrics:    promexport.Handler(a.engine),
	})

	return a, nil
}

// Handler returns the root HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully and releases
// every resource.
func (a *Application) Run(ctx context.Context) error {
	defer a.release()

	srv := &http.Server{
		Addr:              a.cfg.App.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting auth server",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.App.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("auth server stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release closes resources in reverse dependency order. The redis
// connection goes last, after the engine that borrows it.
func (a *Application) release() {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", zap.Error(err))
		}
	}
	a.closers = nil
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
		a.redis = nil
	}
	if a.embedded != nil {
		a.embedded.Close()
		a.embedded = nil
	}
	_ = a.logger.Sync()
}
