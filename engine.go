package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ledgerwise/authcore/cookie"
	"github.com/ledgerwise/authcore/csrf"
	"github.com/ledgerwise/authcore/internal/rate"
	"github.com/ledgerwise/authcore/internal/revocation"
	"github.com/ledgerwise/authcore/password"
	"github.com/ledgerwise/authcore/token"
	"go.uber.org/zap"
)

const (
	scopeLogin    = "login"
	scopeRegister = "register"
	scopeRefresh  = "refresh"
)

// Engine orchestrates registration, login, refresh, logout and password
// changes. It is safe for concurrent use once returned by [Builder.Build].
type Engine struct {
	config   Config
	users    UserProvider
	codec    *token.Codec
	csrf     *csrf.Service
	cookies  *cookie.Transport
	limiter  *rate.Limiter
	denylist *revocation.Denylist
	hasher   *password.Hasher
	policy   password.Policy
	audit    *auditDispatcher
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

// RateDecision is the public view of one counted attempt.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Login authenticates email and password. The per-account attempt budget is
// charged before any password work, and attempts are never refunded.
func (e *Engine) Login(ctx context.Context, email, pass string) (*SessionResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	identifier := normalizeEmail(email)
	if identifier == "" || pass == "" {
		err := &ValidationError{Fields: map[string]string{}}
		if identifier == "" {
			err.Fields["email"] = "is required"
		}
		if pass == "" {
			err.Fields["password"] = "is required"
		}
		return nil, err
	}

	rule := e.config.RateLimit.LoginAccount
	if _, err := e.CheckRateLimit(ctx, scopeLogin, "account:"+identifier, rule); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
		}
		return nil, err
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, ErrUserNotFound):
		e.hasher.VerifyDummy(pass)
		return nil, e.loginFailed(ctx, "", "unknown_account", ErrInvalidCredentials)
	case err != nil:
		e.log.Error("user lookup failed", zap.Error(err))
		return nil, e.loginFailed(ctx, "", "store", unavailable(err))
	case user.Status == AccountDeleted:
		e.hasher.VerifyDummy(pass)
		return nil, e.loginFailed(ctx, "", "deleted_account", ErrInvalidCredentials)
	}

	ok, err := e.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		e.log.Error("stored password hash unreadable", zap.String("user_id", user.UserID), zap.Error(err))
		return nil, e.loginFailed(ctx, user.UserID, "hash", ErrInvalidCredentials)
	}
	if !ok {
		return nil, e.loginFailed(ctx, user.UserID, "password", ErrInvalidCredentials)
	}

	if user.Status != AccountActive {
		e.metricInc(MetricAccountInactive)
		return nil, e.loginFailed(ctx, user.UserID, user.Status.String(), ErrAccountInactive)
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeHash(ctx, user, pass)
	}

	res, err := e.issueSession(user, true)
	if err != nil {
		return nil, e.loginFailed(ctx, user.UserID, "issue", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, nil, nil)
	return res, nil
}

// Refresh exchanges a refresh token for a new access token. With refresh
// rotation enabled the presented token is consumed and a new one is issued.
// Every failure returns [ErrInvalidRefreshToken]; the reason is audit-only.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*SessionResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.codec.Verify(refreshToken, token.Refresh)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", token.Reason(err), ErrInvalidRefreshToken)
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, e.refreshFailed(ctx, claims.Subject, "unknown_account", ErrInvalidRefreshToken)
	case err != nil:
		e.log.Error("user lookup failed", zap.Error(err))
		return nil, e.refreshFailed(ctx, claims.Subject, "store", unavailable(err))
	case user.Status != AccountActive:
		return nil, e.refreshFailed(ctx, user.UserID, "inactive_account", ErrInvalidRefreshToken)
	case user.AccountVersion != claims.Version:
		return nil, e.refreshFailed(ctx, user.UserID, "stale_version", ErrInvalidRefreshToken)
	}

	rotate := e.config.Security.RotateRefreshTokens
	if rotate {
		fresh, err := e.denylist.Consume(ctx, claims.ID, claims.ExpiresAt.Sub(e.now()))
		if err != nil {
			return nil, e.refreshFailed(ctx, user.UserID, "store", unavailable(err))
		}
		if !fresh {
			mark, err := e.denylist.Lookup(ctx, claims.ID)
			if err != nil {
				return nil, e.refreshFailed(ctx, user.UserID, "store", unavailable(err))
			}
			if mark == revocation.MarkRevoked {
				return nil, e.refreshFailed(ctx, user.UserID, "revoked", ErrInvalidRefreshToken)
			}
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, user.UserID, ErrInvalidRefreshToken, func() map[string]string {
				return map[string]string{"jti": claims.ID}
			})
			return nil, e.refreshFailed(ctx, user.UserID, "reuse", ErrInvalidRefreshToken)
		}
	} else {
		revoked, err := e.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, e.refreshFailed(ctx, user.UserID, "store", unavailable(err))
		}
		if revoked {
			return nil, e.refreshFailed(ctx, user.UserID, "revoked", ErrInvalidRefreshToken)
		}
	}

	res, err := e.issueSession(user, rotate)
	if err != nil {
		return nil, e.refreshFailed(ctx, user.UserID, "issue", err)
	}
	if !rotate {
		res.RefreshExpiresAt = claims.ExpiresAt
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, nil, func() map[string]string {
		return map[string]string{"rotated": boolString(rotate)}
	})
	return res, nil
}

// Authenticate verifies an access token. It performs no store round trip.
func (e *Engine) Authenticate(accessToken string) (Principal, error) {
	if e == nil || e.codec == nil {
		return Principal{}, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	claims, err := e.codec.Verify(accessToken, token.Access)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		return Principal{}, ErrUnauthenticated
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// IssueCSRFToken returns a fresh anti-forgery token.
func (e *Engine) IssueCSRFToken() (string, error) {
	if e == nil || e.csrf == nil {
		return "", ErrEngineNotReady
	}
	tok, err := e.csrf.Issue()
	if err != nil {
		return "", err
	}
	e.metricInc(MetricCSRFIssued)
	return tok, nil
}

// CheckCSRF validates the header value of a state-changing request. It returns
// [ErrCSRFTokenMissing] or [ErrCSRFTokenInvalid].
func (e *Engine) CheckCSRF(ctx context.Context, headerValue string) error {
	if e == nil || e.csrf == nil {
		return ErrEngineNotReady
	}

	var err error
	switch {
	case headerValue == "":
		err = ErrCSRFTokenMissing
	case !e.csrf.Validate(headerValue):
		err = ErrCSRFTokenInvalid
	default:
		return nil
	}

	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFRejected, false, "", err, nil)
	return err
}

// CheckRateLimit counts one attempt for scope and identifier against rule.
// A denied attempt returns a [*RateLimitError]; store faults wrap
// [ErrServiceUnavailable].
func (e *Engine) CheckRateLimit(ctx context.Context, scope, identifier string, rule RateLimitRule) (RateDecision, error) {
	if e == nil || e.limiter == nil {
		return RateDecision{}, ErrEngineNotReady
	}

	d, err := e.limiter.CheckAndIncrement(ctx, scope, identifier, rule.MaxAttempts, rule.Window)
	if errors.Is(err, rate.ErrInvalidRule) {
		return RateDecision{}, err
	}
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.log.Error("rate limit check failed", zap.String("scope", scope), zap.Error(err))
		return RateDecision{}, unavailable(err)
	}

	now := e.now()
	out := RateDecision{
		Allowed:    d.Allowed,
		Limit:      d.Limit,
		Remaining:  d.Remaining,
		ResetAt:    d.ResetAt,
		RetryAfter: d.RetryAfter(now),
	}
	if !d.Allowed {
		e.emitRateLimit(ctx, scope, identifier)
		return out, &RateLimitError{Scope: scope, ResetAt: d.ResetAt, RetryAfter: out.RetryAfter}
	}
	return out, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Transport returns the credential cookie transport built from the config.
func (e *Engine) Transport() *cookie.Transport {
	return e.cookies
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close flushes the audit dispatcher. The counter store client passed to
// the builder is left untouched; its owner closes it.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) issueSession(user UserRecord, withRefresh bool) (*SessionResult, error) {
	access, accessClaims, err := e.codec.Issue(token.IssueInput{
		Subject: user.UserID,
		Role:    user.Role,
		Kind:    token.Access,
	})
	if err != nil {
		return nil, err
	}

	res := &SessionResult{
		User:            ProfileOf(user),
		AccessToken:     access,
		AccessExpiresAt: accessClaims.ExpiresAt,
	}

	if withRefresh {
		refresh, refreshClaims, err := e.codec.Issue(token.IssueInput{
			Subject: user.UserID,
			Role:    user.Role,
			Kind:    token.Refresh,
			Version: user.AccountVersion,
		})
		if err != nil {
			return nil, err
		}
		res.RefreshToken = refresh
		res.RefreshExpiresAt = refreshClaims.ExpiresAt
	}

	if res.CSRFToken, err = e.csrf.Issue(); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) upgradeHash(ctx context.Context, user UserRecord, pass string) {
	need, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !need {
		return
	}
	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}
	if err := e.users.UpgradePasswordHash(ctx, user.UserID, user.PasswordHash, hash); err != nil {
		e.log.Warn("password hash upgrade failed", zap.String("user_id", user.UserID), zap.Error(err))
	}
}

func (e *Engine) loginFailed(ctx context.Context, userID, reason string, err error) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func (e *Engine) refreshFailed(ctx context.Context, userID, reason string, err error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
