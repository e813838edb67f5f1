package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const checkAndIncrementScript = `
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var checkAndIncrementLua = redis.NewScript(checkAndIncrementScript)

const (
	defaultPrefix    = "rl"
	defaultOpTimeout = 2 * time.Second
)

// Config holds limiter tuning parameters.
type Config struct {
	Prefix string
	// OpTimeout bounds one store round trip. The round trip is detached from
	// caller cancellation so a counted attempt is not lost mid-flight.
	OpTimeout time.Duration
	Now       func() time.Time
}

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed   bool
	Limit     int
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the time left until the window resets, rounded up to
// whole seconds and never below one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	secs := (wait + time.Second - 1) / time.Second
	return secs * time.Second
}

// Limiter counts attempts per (scope, identifier) in a store client it does
// not own.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	log    *zap.Logger
}

// New creates a [Limiter] on an already-connected client. The first limiter
// built on a client attaches a passive error observer to it; later ones reuse
// that observer. The limiter never manages the client lifecycle.
func New(client redis.UniversalClient, cfg Config, log *zap.Logger) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratelimit")

	observe(client, log)

	return &Limiter{
		redis:  client,
		config: cfg,
		log:    log,
	}
}

// CheckAndIncrement counts one attempt against the window for scope and
// identifier and reports whether it is within maxAttempts.
func (l *Limiter) CheckAndIncrement(ctx context.Context, scope, identifier string, maxAttempts int, window time.Duration) (Decision, error) {
	if maxAttempts <= 0 || window < time.Millisecond {
		return Decision{}, fmt.Errorf("%w: max=%d window=%s", ErrInvalidRule, maxAttempts, window)
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.OpTimeout)
	defer cancel()

	res, err := checkAndIncrementLua.Run(
		opCtx,
		l.redis,
		[]string{l.Key(scope, identifier)},
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	count, ttlMs := res[0], res[1]
	remaining := int64(maxAttempts) - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= int64(maxAttempts),
		Limit:     maxAttempts,
		Count:     count,
		Remaining: int(remaining),
		ResetAt:   l.config.Now().Add(time.Duration(ttlMs) * time.Millisecond),
	}, nil
}

// Key returns the store key for scope and identifier.
func (l *Limiter) Key(scope, identifier string) string {
	return l.config.Prefix + ":" + scope + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// Now returns the limiter clock reading.
func (l *Limiter) Now() time.Time {
	return l.config.Now()
}
