package authcore

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/ledgerwise/authcore/password"
	"go.uber.org/zap"
)

const maxEmailLength = 254

// Register creates an account and signs it in. New accounts get the
// configured default role and start active.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*SessionResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if !e.config.Account.AllowRegistration {
		return nil, e.registerFailed(ctx, "", "disabled", ErrRegistrationDisabled)
	}

	email := normalizeEmail(in.Email)
	displayName := strings.TrimSpace(in.DisplayName)

	fields := map[string]string{}
	if err := validateEmail(email); err != "" {
		fields["email"] = err
	}
	if err := e.policy.Validate(in.Password, email, displayName); err != nil {
		fields["password"] = policyMessage(err)
	}
	if len(displayName) > 100 {
		fields["displayName"] = "must be at most 100 characters"
	}
	if len(fields) > 0 {
		e.metricInc(MetricRegisterRejected)
		return nil, e.registerFailed(ctx, "", "validation", &ValidationError{Fields: fields})
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, e.registerFailed(ctx, "", "hash", err)
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{
		Identifier:   email,
		DisplayName:  displayName,
		Role:         e.config.Account.DefaultRole,
		PasswordHash: hash,
		Status:       AccountActive,
	})
	switch {
	case errors.Is(err, ErrProviderDuplicateIdentifier):
		e.metricInc(MetricRegisterDuplicate)
		return nil, e.registerFailed(ctx, "", "duplicate", ErrEmailTaken)
	case err != nil:
		e.log.Error("create user failed", zap.Error(err))
		return nil, e.registerFailed(ctx, "", "store", unavailable(err))
	}

	res, err := e.issueSession(user, true)
	if err != nil {
		return nil, e.registerFailed(ctx, user.UserID, "issue", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.UserID, nil, nil)
	return res, nil
}

// Profile returns the public profile of subject. Unknown or deleted accounts
// are reported as [ErrUnauthenticated].
func (e *Engine) Profile(ctx context.Context, subject string) (Profile, error) {
	if e == nil || e.users == nil {
		return Profile{}, ErrEngineNotReady
	}
	if subject == "" {
		return Profile{}, ErrUnauthenticated
	}

	user, err := e.users.GetUserByID(ctx, subject)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return Profile{}, ErrUnauthenticated
	case err != nil:
		e.log.Error("user lookup failed", zap.Error(err))
		return Profile{}, unavailable(err)
	case user.Status == AccountDeleted:
		return Profile{}, ErrUnauthenticated
	}
	return ProfileOf(user), nil
}

func (e *Engine) registerFailed(ctx context.Context, userID, reason string, err error) error {
	e.emitAudit(ctx, auditEventRegisterFailure, false, userID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func validateEmail(email string) string {
	if email == "" {
		return "is required"
	}
	if len(email) > maxEmailLength {
		return "is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "must be a valid email address"
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "must be a valid email address"
	}
	return ""
}

func policyMessage(err error) string {
	var pe *password.PolicyError
	if errors.As(err, &pe) && len(pe.Reasons) > 0 {
		return strings.Join(pe.Reasons, "; ")
	}
	return "does not meet the password policy"
}
