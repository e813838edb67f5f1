package authcore

import (
	"errors"
	"time"

	"github.com/ledgerwise/authcore/cookie"
	"github.com/ledgerwise/authcore/csrf"
	"github.com/ledgerwise/authcore/internal/rate"
	"github.com/ledgerwise/authcore/internal/revocation"
	"github.com/ledgerwise/authcore/password"
	"github.com/ledgerwise/authcore/token"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	auditSink    AuditSink
	logger       *zap.Logger
	clock        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. The value is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the counter store client. The engine shares the client and
// never closes it.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the account store. It is required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets where audit events go. Nil discards them.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. Nil means zap.NewNop.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock replaces time.Now for token, CSRF and rate limit time keeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the Authenticate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	log := b.logger
	if log == nil {
		log = zap.NewNop()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	// -------- CREDENTIALS --------
	codec, err := token.NewCodec(token.Config{
		AccessKey:  cfg.Token.AccessSecret,
		RefreshKey: cfg.Token.RefreshSecret,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Issuer:     cfg.Token.Issuer,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	csrfService, err := csrf.New(csrf.Config{
		Secret: cfg.CSRF.Secret,
		TTL:    cfg.CSRF.TTL,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}

	transport, err := cookie.New(cookie.Config{
		AccessName:  cfg.Cookie.AccessName,
		RefreshName: cfg.Cookie.RefreshName,
		Path:        cfg.Cookie.Path,
		Domain:      cfg.Cookie.Domain,
		Secure:      cfg.Cookie.Secure || cfg.Security.ProductionMode,
		AccessTTL:   cfg.Token.AccessTTL,
		RefreshTTL:  cfg.Token.RefreshTTL,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		users:   b.userProvider,
		codec:   codec,
		csrf:    csrfService,
		cookies: transport,
		hasher:  hasher,
		log:     log,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink, log),
		policy: password.Policy{
			MinLength: cfg.Password.MinLength,
			MaxLength: cfg.Password.MaxLength,
			MinScore:  cfg.Password.MinStrengthScore,
		},
	}

	// -------- COUNTER STORE --------
	engine.limiter = rate.New(b.redis, rate.Config{
		Prefix:    cfg.RateLimit.Prefix,
		OpTimeout: cfg.RateLimit.OpTimeout,
		Now:       now,
	}, log)
	engine.denylist = revocation.New(b.redis, cfg.Security.RevocationPrefix)

	b.built = true

	return engine, nil
}
