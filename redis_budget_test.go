package authcore

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis hook that counts round trips.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		// One network round trip per pipeline.
		h.commands.Add(1)
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) Reset()          { h.commands.Store(0) }
func (h *cmdCounter) Commands() int64 { return h.commands.Load() }

func newCountedEnv(t *testing.T) (*testEnv, *cmdCounter) {
	t.Helper()

	env := newTestEnv(t, testConfig(), nil)
	counter := &cmdCounter{}
	env.rdb.AddHook(counter)
	return env, counter
}

func TestLoginRedisBudget(t *testing.T) {
	env, counter := newCountedEnv(t)
	env.seedUser(t, testEmail)
	ctx := context.Background()

	// The first call loads the rate limit script.
	if _, err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("warmup login: %v", err)
	}

	counter.Reset()
	if _, err := env.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}
	if got := counter.Commands(); got > 2 {
		t.Fatalf("login used %d redis round trips, budget is 2", got)
	}
}

func TestRefreshRedisBudget(t *testing.T) {
	for _, rotate := range []bool{true, false} {
		t.Run("rotate="+boolString(rotate), func(t *testing.T) {
			cfg := testConfig()
			cfg.Security.RotateRefreshTokens = rotate
			env := newTestEnv(t, cfg, nil)
			counter := &cmdCounter{}
			env.rdb.AddHook(counter)
			env.seedUser(t, testEmail)
			ctx := context.Background()

			res, err := env.engine.Login(ctx, testEmail, testPassword)
			if err != nil {
				t.Fatalf("login: %v", err)
			}

			counter.Reset()
			if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if got := counter.Commands(); got > 2 {
				t.Fatalf("refresh used %d redis round trips, budget is 2", got)
			}
		})
	}
}

func TestAuthenticateMakesNoRedisCalls(t *testing.T) {
	env, counter := newCountedEnv(t)
	env.seedUser(t, testEmail)
	ctx := context.Background()

	res, err := env.engine.Login(ctx, testEmail, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	counter.Reset()
	for i := 0; i < 10; i++ {
		if _, err := env.engine.Authenticate(res.AccessToken); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
	}
	if got := counter.Commands(); got != 0 {
		t.Fatalf("authenticate used %d redis round trips, want 0", got)
	}
}

func TestRegisterRedisBudget(t *testing.T) {
	env, counter := newCountedEnv(t)

	_, err := env.engine.Register(context.Background(), RegisterInput{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := counter.Commands(); got > 2 {
		t.Fatalf("register used %d redis round trips, budget is 2", got)
	}
}
