package authcore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ledgerwise/authcore/password"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Xk9#mQ2v!Lp7zR"
	testNewPass  = "Wn4$tB8q@Jd6yH"
)

// fakeClock is a settable clock shared by every engine component.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockUserProvider struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string

	getErr               error
	skipVersionBump      bool
	upgradePasswordCalls int
	updatePasswordCalls  int

	// beforeUpgrade runs inside UpgradePasswordHash before the swap.
	beforeUpgrade func(context.Context)
}

func newMockUserProvider() *mockUserProvider {
	return &mockUserProvider{
		users:        map[string]UserRecord{},
		byIdentifier: map[string]string{},
	}
}

func (m *mockUserProvider) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	id, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *mockUserProvider) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserProvider) CreateUser(_ context.Context, in CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byIdentifier[in.Identifier]; ok {
		return UserRecord{}, ErrProviderDuplicateIdentifier
	}

	user := UserRecord{
		UserID:         fmt.Sprintf("u%d", len(m.users)+1),
		Identifier:     in.Identifier,
		DisplayName:    in.DisplayName,
		Role:           in.Role,
		PasswordHash:   in.PasswordHash,
		Status:         in.Status,
		AccountVersion: 1,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	m.users[user.UserID] = user
	m.byIdentifier[user.Identifier] = user.UserID
	return user, nil
}

func (m *mockUserProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updatePasswordCalls++
	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	user.PasswordHash = newHash
	if !m.skipVersionBump {
		user.AccountVersion++
	}
	m.users[userID] = user
	return user, nil
}

func (m *mockUserProvider) UpgradePasswordHash(ctx context.Context, userID, oldHash, newHash string) error {
	m.mu.Lock()
	m.upgradePasswordCalls++
	hook := m.beforeUpgrade
	m.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if user.PasswordHash != oldHash {
		return nil
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) UpdateAccountStatus(_ context.Context, userID string, status AccountStatus) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	user.Status = status
	if !m.skipVersionBump {
		user.AccountVersion++
	}
	m.users[userID] = user
	return user, nil
}

func (m *mockUserProvider) user(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

func (m *mockUserProvider) setStatus(id string, status AccountStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.users[id]
	user.Status = status
	m.users[id] = user
}

// testConfig keeps argon2 cheap; everything else is the default policy.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessSecret = []byte("access-secret-0123456789abcdefghijkl")
	cfg.Token.RefreshSecret = []byte("refresh-secret-0123456789abcdefghijk")
	cfg.CSRF.Secret = []byte("csrf-secret-0123456789abcdefghijklmno")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()

	h, err := password.NewHasher(password.Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return h
}

type testEnv struct {
	engine *Engine
	users  *mockUserProvider
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	clock  *fakeClock
}

func newTestEnv(t *testing.T, cfg Config, sink AuditSink) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	users := newMockUserProvider()
	clock := newFakeClock()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, users: users, mr: mr, rdb: rdb, clock: clock}
}

// seedUser registers an active account with testPassword.
func (env *testEnv) seedUser(t *testing.T, email string) UserRecord {
	t.Helper()

	hash, err := env.engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user, err := env.users.CreateUser(context.Background(), CreateUserInput{
		Identifier:   email,
		DisplayName:  "Alice",
		Role:         "user",
		PasswordHash: hash,
		Status:       AccountActive,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func waitForEvent(t *testing.T, sink *ChannelSink, eventType string) AuditEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("audit event %q not received", eventType)
			return AuditEvent{}
		}
	}
}
