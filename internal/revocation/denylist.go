package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps denylist store failures.
var ErrStoreUnavailable = errors.New("revocation store unavailable")

const defaultPrefix = "rtd"

// Mark records why a token ID is on the denylist.
type Mark string

const (
	MarkNone     Mark = ""
	MarkConsumed Mark = "consumed"
	MarkRevoked  Mark = "revoked"
)

// Denylist is a Redis-backed set of consumed or revoked refresh token IDs.
type Denylist struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a [Denylist] using an already-connected client.
func New(client redis.UniversalClient, prefix string) *Denylist {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Denylist{redis: client, prefix: prefix}
}

// Consume marks id as used until ttl elapses. It reports false when id was
// already consumed or revoked, which callers treat as replay.
func (d *Denylist) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := d.redis.SetNX(ctx, d.key(id), string(MarkConsumed), clampTTL(ttl)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Revoke marks id as unusable until ttl elapses. Revoking twice is not an error.
func (d *Denylist) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if err := d.redis.Set(ctx, d.key(id), string(MarkRevoked), clampTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether id has been consumed or revoked.
func (d *Denylist) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := d.redis.Exists(ctx, d.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Lookup returns the mark stored for id, or [MarkNone] when id is usable.
func (d *Denylist) Lookup(ctx context.Context, id string) (Mark, error) {
	v, err := d.redis.Get(ctx, d.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return MarkNone, nil
	}
	if err != nil {
		return MarkNone, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Mark(v), nil
}

func (d *Denylist) key(id string) string {
	return d.prefix + ":" + id
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
