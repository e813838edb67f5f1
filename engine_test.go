package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerwise/authcore/token"
)

func TestBuildRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithUserProvider(newMockUserProvider()).Build(); err == nil {
		t.Fatal("expected missing redis client to fail")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected missing user provider to fail")
	}

	cfg := testConfig()
	cfg.Token.RefreshSecret = cfg.Token.AccessSecret
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(newMockUserProvider()).Build(); err == nil {
		t.Fatal("expected identical token secrets to fail")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithUserProvider(newMockUserProvider())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestRegisterIssuesSession(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, testConfig(), sink)

	res, err := env.engine.Register(context.Background(), RegisterInput{
		Email:       "  Alice@Example.com ",
		Password:    testPassword,
		DisplayName: "Alice",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.User.Email != testEmail || res.User.Role != "user" || res.User.DisplayName != "Alice" {
		t.Fatalf("unexpected profile %+v", res.User)
	}
	if res.AccessToken == "" || res.RefreshToken == "" || res.CSRFToken == "" {
		t.Fatalf("expected access, refresh and csrf tokens, got %+v", res)
	}
	if !env.engine.csrf.Validate(res.CSRFToken) {
		t.Fatal("issued csrf token does not validate")
	}

	stored := env.users.user(res.User.ID)
	if stored.PasswordHash == testPassword || !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id hash to be stored, got %q", stored.PasswordHash)
	}

	ev := waitForEvent(t, sink, auditEventRegisterSuccess)
	if ev.UserID != res.User.ID || !ev.Success {
		t.Fatalf("unexpected audit event %+v", ev)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seedUser(t, testEmail)

	_, err := env.engine.Register(context.Background(), RegisterInput{Email: "ALICE@example.com", Password: testPassword})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if KindOf(err) != KindEmailTaken {
		t.Fatalf("expected kind %s, got %s", KindEmailTaken, KindOf(err))
	}
	if got := env.engine.metrics.Value(MetricRegisterDuplicate); got != 1 {
		t.Fatalf("expected duplicate counter 1, got %d", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{name: "empty email", in: RegisterInput{Password: testPassword}, field: "email"},
		{name: "no at sign", in: RegisterInput{Email: "alice.example.com", Password: testPassword}, field: "email"},
		{name: "display form", in: RegisterInput{Email: "Alice <alice@example.com>", Password: testPassword}, field: "email"},
		{name: "short password", in: RegisterInput{Email: testEmail, Password: "short"}, field: "password"},
		{name: "weak password", in: RegisterInput{Email: testEmail, Password: "password123"}, field: "password"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Register(context.Background(), tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected field %q in %v", tc.field, verr.Fields)
			}
			if KindOf(err) != KindValidationFailed {
				t.Fatalf("expected kind %s, got %s", KindValidationFailed, KindOf(err))
			}
		})
	}
}

func TestRegisterDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Account.AllowRegistration = false
	env := newTestEnv(t, cfg, nil)

	_, err := env.engine.Register(context.Background(), RegisterInput{Email: testEmail, Password: testPassword})
	if !errors.Is(err, ErrRegistrationDisabled) {
		t.Fatalf("expected ErrRegistrationDisabled, got %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, testConfig(), sink)
	user := env.seedUser(t, testEmail)

	ctx := WithRequestID(WithClientIP(context.Background(), "198.51.100.7"), "req-1")
	res, err := env.engine.Login(ctx, " ALICE@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.User.ID != user.UserID {
		t.Fatalf("expected user %s, got %s", user.UserID, res.User.ID)
	}

	access, err := env.engine.codec.Verify(res.AccessToken, token.Access)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if access.Subject != user.UserID || access.Role != "user" {
		t.Fatalf("unexpected access claims %+v", access)
	}
	if !res.AccessExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", res.AccessExpiresAt)
	}

	refresh, err := env.engine.codec.Verify(res.RefreshToken, token.Refresh)
	if err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
	if refresh.Version != user.AccountVersion || refresh.ID == "" {
		t.Fatalf("unexpected refresh claims %+v", refresh)
	}

	ev := waitForEvent(t, sink, auditEventLoginSuccess)
	if ev.IP != "198.51.100.7" || ev.RequestID != "req-1" || ev.UserID != user.UserID {
		t.Fatalf("unexpected audit event %+v", ev)
	}
}

func TestLoginFailuresShareOneError(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seedUser(t, testEmail)

	_, unknownErr := env.engine.Login(context.Background(), "bob@example.com", testPassword)
	_, wrongErr := env.engine.Login(context.Background(), testEmail, "not-the-password")

	for _, err := range []error{unknownErr, wrongErr} {
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("unknown account and wrong password must not differ: %q vs %q", unknownErr, wrongErr)
	}
	if KindInvalidCredentials.Message() != KindInvalidCurrentPassword.Message() {
		t.Fatal("credential messages must be identical")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.seedUser(t, testEmail)

	for _, status := range []AccountStatus{AccountDisabled, AccountLocked} {
		env.users.setStatus(user.UserID, status)

		_, err := env.engine.Login(context.Background(), testEmail, testPassword)
		if !errors.Is(err, ErrAccountInactive) {
			t.Fatalf("%s: expected ErrAccountInactive, got %v", status, err)
		}

		// A wrong password never reveals the account state.
		_, err = env.engine.Login(context.Background(), testEmail, "not-the-password")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", status, err)
		}
	}

	env.users.setStatus(user.UserID, AccountDeleted)
	_, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("deleted: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginPerAccountRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.LoginAccount = RateLimitRule{MaxAttempts: 3, Window: time.Minute}
	env := newTestEnv(t, cfg, nil)
	env.seedUser(t, testEmail)

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(context.Background(), testEmail, "not-the-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.engine.Login(context.Background(), testEmail, testPassword)
	var rerr *RateLimitError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if !rerr.ResetAt.After(env.clock.Now()) {
		t.Fatalf("expected reset in the future, got %v", rerr.ResetAt)
	}
	if rerr.RetryAfter < time.Second || rerr.RetryAfter > time.Minute {
		t.Fatalf("unexpected retry after %v", rerr.RetryAfter)
	}
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected kind %s, got %s", KindRateLimited, KindOf(err))
	}
	if got := env.engine.metrics.Value(MetricLoginRateLimited); got != 1 {
		t.Fatalf("expected rate limited counter 1, got %d", got)
	}

	// Identifiers are case-insensitive.
	if _, err := env.engine.Login(context.Background(), "ALICE@EXAMPLE.COM", testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for the same account, got %v", err)
	}

	env.mr.FastForward(time.Minute + time.Second)
	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("expected login after window reset, got %v", err)
	}
}

func TestLoginStoreFaultIsUnavailable(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seedUser(t, testEmail)

	env.mr.SetError("LOADING dataset in memory")
	defer env.mr.SetError("")

	_, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if KindOf(err) != KindServiceUnavailable {
		t.Fatalf("expected kind %s, got %s", KindServiceUnavailable, KindOf(err))
	}
}

func TestLoginUpgradesOutdatedHash(t *testing.T) {
	cfg := testConfig()
	cfg.Password.Time = 2
	env := newTestEnv(t, cfg, nil)

	oldHash, err := newTestHasher(t).Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user, err := env.users.CreateUser(context.Background(), CreateUserInput{
		Identifier:   testEmail,
		Role:         "user",
		PasswordHash: oldHash,
		Status:       AccountActive,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	stored := env.users.user(user.UserID)
	if stored.PasswordHash == oldHash {
		t.Fatal("expected hash to be upgraded")
	}
	if !strings.Contains(stored.PasswordHash, "t=2") {
		t.Fatalf("expected upgraded parameters, got %q", stored.PasswordHash)
	}
	if stored.AccountVersion != user.AccountVersion {
		t.Fatal("hash upgrade must not advance the account version")
	}
}

func TestHashUpgradeDoesNotRevertConcurrentPasswordChange(t *testing.T) {
	cfg := testConfig()
	cfg.Password.Time = 2
	env := newTestEnv(t, cfg, nil)

	oldHash, err := newTestHasher(t).Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	user, err := env.users.CreateUser(context.Background(), CreateUserInput{
		Identifier:   testEmail,
		Role:         "user",
		PasswordHash: oldHash,
		Status:       AccountActive,
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	// The password changes after login verified the old one but before the
	// rehash is written.
	var changeErr error
	changed := false
	env.users.beforeUpgrade = func(ctx context.Context) {
		if changed {
			return
		}
		changed = true
		_, changeErr = env.engine.ChangePassword(ctx, user.UserID, testPassword, testNewPass)
	}

	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if changeErr != nil {
		t.Fatalf("ChangePassword failed: %v", changeErr)
	}

	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stay rejected, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), testEmail, testNewPass); err != nil {
		t.Fatalf("new password must keep working, got %v", err)
	}
	if got := env.users.user(user.UserID).AccountVersion; got != user.AccountVersion+1 {
		t.Fatalf("expected version %d, got %d", user.AccountVersion+1, got)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, testConfig(), sink)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	env.clock.Advance(time.Second)
	first, err := env.engine.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if first.RefreshToken == "" || first.RefreshToken == login.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}
	if first.AccessToken == login.AccessToken {
		t.Fatal("expected a new access token")
	}

	_, err = env.engine.Refresh(context.Background(), login.RefreshToken)
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected reuse to be rejected, got %v", err)
	}
	waitForEvent(t, sink, auditEventRefreshReuseDetected)

	if _, err := env.engine.Refresh(context.Background(), first.RefreshToken); err != nil {
		t.Fatalf("rotated token should refresh once: %v", err)
	}
}

func TestRefreshConcurrentReuseHasOneWinner(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		start   = make(chan struct{})
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); err == nil {
				success.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := success.Load(); got != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", got)
	}
}

func TestRefreshWithoutRotation(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RotateRefreshTokens = false
	env := newTestEnv(t, cfg, nil)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := env.engine.Refresh(context.Background(), login.RefreshToken)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		if res.RefreshToken != "" {
			t.Fatal("expected refresh token to be kept")
		}
		if !res.RefreshExpiresAt.Equal(login.RefreshExpiresAt) {
			t.Fatalf("expected original refresh expiry, got %v", res.RefreshExpiresAt)
		}
	}

	if err := env.engine.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestRefreshRejectsInvalidTokens(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, testConfig(), sink)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "access token", token: login.AccessToken},
		{name: "tampered", token: login.RefreshToken[:len(login.RefreshToken)-2] + "xx"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Refresh(context.Background(), tc.token)
			if !errors.Is(err, ErrInvalidRefreshToken) {
				t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
			}
			if KindOf(err) != KindInvalidRefreshToken {
				t.Fatalf("expected kind %s, got %s", KindInvalidRefreshToken, KindOf(err))
			}
		})
	}

	ev := waitForEvent(t, sink, auditEventRefreshInvalid)
	if ev.Metadata["reason"] == "" {
		t.Fatal("expected the failure reason in audit metadata")
	}

	env.clock.Advance(7*24*time.Hour + time.Second)
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	_, err = env.engine.ChangePassword(context.Background(), user.UserID, "not-the-password", testNewPass)
	if !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected ErrInvalidCurrentPassword, got %v", err)
	}
	if KindOf(err).Message() != KindInvalidCredentials.Message() {
		t.Fatal("expected generic credential wording")
	}

	_, err = env.engine.ChangePassword(context.Background(), user.UserID, "not-the-password", "not-the-password")
	if !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("current password must be checked before reuse, got %v", err)
	}

	_, err = env.engine.ChangePassword(context.Background(), user.UserID, testPassword, testPassword)
	if !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}

	_, err = env.engine.ChangePassword(context.Background(), user.UserID, testPassword, "short")
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}

	res, err := env.engine.ChangePassword(context.Background(), user.UserID, testPassword, testNewPass)
	if err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if env.users.user(user.UserID).AccountVersion != user.AccountVersion+1 {
		t.Fatal("expected account version to advance")
	}

	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected pre-change refresh token to fail, got %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), res.RefreshToken); err != nil {
		t.Fatalf("expected post-change refresh token to work, got %v", err)
	}

	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), testEmail, testNewPass); err != nil {
		t.Fatalf("expected new password to work, got %v", err)
	}
}

func TestChangePasswordRequiresVersionBump(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.seedUser(t, testEmail)
	env.users.skipVersionBump = true

	_, err := env.engine.ChangePassword(context.Background(), user.UserID, testPassword, testNewPass)
	if !errors.Is(err, ErrAccountVersionNotAdvanced) {
		t.Fatalf("expected ErrAccountVersionNotAdvanced, got %v", err)
	}
}

func TestAccountStatusChangeRetiresRefreshTokens(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := env.engine.DisableAccount(context.Background(), user.UserID); err != nil {
		t.Fatalf("DisableAccount failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected refresh on disabled account to fail, got %v", err)
	}

	if err := env.engine.EnableAccount(context.Background(), user.UserID); err != nil {
		t.Fatalf("EnableAccount failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected stale version to fail after re-enable, got %v", err)
	}
	if _, err := env.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		t.Fatalf("expected login after re-enable, got %v", err)
	}

	if err := env.engine.LockAccount(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDeletedAccountProfileIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.seedUser(t, testEmail)

	profile, err := env.engine.Profile(context.Background(), user.UserID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.Email != testEmail {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if err := env.engine.DeleteAccount(context.Background(), user.UserID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if _, err := env.engine.Profile(context.Background(), user.UserID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := env.engine.Logout(context.Background(), login.RefreshToken); err != nil {
			t.Fatalf("logout %d failed: %v", i+1, err)
		}
	}
	if err := env.engine.Logout(context.Background(), ""); err != nil {
		t.Fatalf("logout without token failed: %v", err)
	}
	if err := env.engine.Logout(context.Background(), "garbage"); err != nil {
		t.Fatalf("logout with garbage failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected logged out token to fail, got %v", err)
	}

	env.mr.SetError("LOADING dataset in memory")
	defer env.mr.SetError("")
	if err := env.engine.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("logout must not surface store faults, got %v", err)
	}
}

func TestLoggedOutRefreshIsNotReportedAsReuse(t *testing.T) {
	sink := NewChannelSink(32)
	env := newTestEnv(t, testConfig(), sink)
	env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := env.engine.Logout(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected logged out token to fail, got %v", err)
	}

	ev := waitForEvent(t, sink, auditEventRefreshInvalid)
	if ev.Metadata["reason"] != "revoked" {
		t.Fatalf("expected revoked reason, got %q", ev.Metadata["reason"])
	}
	if n := env.engine.MetricsSnapshot().Counters[MetricRefreshReuseDetected]; n != 0 {
		t.Fatalf("logged out token counted as reuse %d times", n)
	}
}

func TestAuthenticate(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	env := newTestEnv(t, cfg, nil)
	user := env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	p, err := env.engine.Authenticate(login.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.Subject != user.UserID || p.Role != "user" {
		t.Fatalf("unexpected principal %+v", p)
	}

	if _, err := env.engine.Authenticate(login.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected refresh token to be rejected, got %v", err)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	if _, err := env.engine.Authenticate(login.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricAuthenticateFailure] != 2 {
		t.Fatalf("expected 2 authenticate failures, got %d", snap.Counters[MetricAuthenticateFailure])
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricAuthenticateLatency] {
		observed += n
	}
	if observed != 3 {
		t.Fatalf("expected 3 latency observations, got %d", observed)
	}
}

func TestCheckCSRF(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	tok, err := env.engine.IssueCSRFToken()
	if err != nil {
		t.Fatalf("IssueCSRFToken failed: %v", err)
	}
	if err := env.engine.CheckCSRF(context.Background(), tok); err != nil {
		t.Fatalf("expected token to pass, got %v", err)
	}
	if err := env.engine.CheckCSRF(context.Background(), ""); !errors.Is(err, ErrCSRFTokenMissing) {
		t.Fatalf("expected ErrCSRFTokenMissing, got %v", err)
	}
	if err := env.engine.CheckCSRF(context.Background(), tok+"0"); !errors.Is(err, ErrCSRFTokenInvalid) {
		t.Fatalf("expected ErrCSRFTokenInvalid, got %v", err)
	}

	env.clock.Advance(24*time.Hour + time.Millisecond)
	if err := env.engine.CheckCSRF(context.Background(), tok); !errors.Is(err, ErrCSRFTokenInvalid) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestCheckRateLimit(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	rule := RateLimitRule{MaxAttempts: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		d, err := env.engine.CheckRateLimit(context.Background(), "register", "ip:203.0.113.9", rule)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if d.Remaining != 1-i {
			t.Fatalf("attempt %d: expected remaining %d, got %d", i+1, 1-i, d.Remaining)
		}
	}

	d, err := env.engine.CheckRateLimit(context.Background(), "register", "ip:203.0.113.9", rule)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if d.Allowed || d.Limit != 2 || d.RetryAfter < time.Second {
		t.Fatalf("unexpected decision %+v", d)
	}

	if _, err := env.engine.CheckRateLimit(context.Background(), "register", "x", RateLimitRule{}); errors.Is(err, ErrServiceUnavailable) {
		t.Fatal("an invalid rule is not a store fault")
	}
}

func TestCloseLeavesRedisClientOpen(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	env.engine.Close()
	env.engine.Close()

	if err := env.rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("expected shared client to stay usable after Close, got %v", err)
	}
}

func TestAuditEventsCarryNoSecrets(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEnv(t, testConfig(), sink)
	user := env.seedUser(t, testEmail)

	login, err := env.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), login.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	_, _ = env.engine.Login(context.Background(), testEmail, "wrong-secret-value")
	env.engine.Close()

	needles := []string{testPassword, "wrong-secret-value", login.RefreshToken, login.AccessToken, env.users.user(user.UserID).PasswordHash}
	count := 0
	for {
		select {
		case ev := <-sink.Events():
			count++
			for _, needle := range needles {
				if strings.Contains(ev.Error, needle) {
					t.Fatalf("secret leaked in error field of %s", ev.EventType)
				}
				for k, v := range ev.Metadata {
					if strings.Contains(k, needle) || strings.Contains(v, needle) {
						t.Fatalf("secret leaked in metadata of %s", ev.EventType)
					}
				}
			}
			continue
		default:
		}
		break
	}
	if count < 3 {
		t.Fatalf("expected at least 3 audit events, got %d", count)
	}
}
