package httpapi

import (
	"context"
	"net/http"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/internal/httpx"
	"github.com/ledgerwise/authcore/middleware"
	"go.uber.org/zap"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options configures [NewRouter]. Engine is required.
type Options struct {
	Engine     *authcore.Engine
	Logger     *zap.Logger
	TrustProxy bool
	// Health backs GET /healthz when set.
	Health HealthChecker
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
}

// NewRouter returns the complete HTTP surface wrapped in request-id, client
// context and access-log middleware.
func NewRouter(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	h := &handler{
		engine:    opts.Engine,
		transport: opts.Engine.Transport(),
		log:       log.Named("httpapi"),
	}

	cfg := opts.Engine.Config()
	byIP := middleware.ByClientIP(opts.TrustProxy)
	limit := func(scope string, rule authcore.RateLimitRule) func(http.Handler) http.Handler {
		return middleware.RateLimit(opts.Engine, middleware.Rule{Scope: scope, Limit: rule, Identifier: byIP})
	}
	csrf := middleware.CSRF(opts.Engine)
	auth := middleware.Authenticate(opts.Engine, h.transport)

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", limit("register", cfg.RateLimit.Register)(http.HandlerFunc(h.register)))
	mux.Handle("POST /auth/login", limit("login", cfg.RateLimit.LoginIP)(http.HandlerFunc(h.login)))
	mux.Handle("POST /auth/refresh", limit("refresh", cfg.RateLimit.Refresh)(http.HandlerFunc(h.refresh)))
	mux.Handle("GET /auth/profile", auth(http.HandlerFunc(h.profile)))
	mux.Handle("POST /auth/logout", csrf(http.HandlerFunc(h.logout)))
	mux.Handle("POST /auth/change-password", csrf(auth(http.HandlerFunc(h.changePassword))))
	mux.Handle("GET /auth/csrf-token", auth(http.HandlerFunc(h.csrfToken)))

	mux.HandleFunc("GET /healthz", healthz(opts.Health))
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return middleware.RequestID(
		middleware.ClientContext(opts.TrustProxy)(
			middleware.AccessLog(log)(mux),
		),
	)
}

func healthz(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.HealthCheck(r.Context()); err != nil {
				httpx.WriteError(w, authcore.ErrServiceUnavailable)
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
