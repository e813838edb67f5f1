package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

func (e *Engine) DisableAccount(ctx context.Context, userID string) error {
	return e.setAccountStatus(ctx, userID, AccountDisabled, "disable")
}

func (e *Engine) EnableAccount(ctx context.Context, userID string) error {
	return e.setAccountStatus(ctx, userID, AccountActive, "enable")
}

func (e *Engine) LockAccount(ctx context.Context, userID string) error {
	return e.setAccountStatus(ctx, userID, AccountLocked, "lock")
}

// DeleteAccount marks the account deleted. Deleted accounts behave as unknown
// to Login, Refresh and Profile.
func (e *Engine) DeleteAccount(ctx context.Context, userID string) error {
	return e.setAccountStatus(ctx, userID, AccountDeleted, "delete")
}

func (e *Engine) setAccountStatus(ctx context.Context, userID string, status AccountStatus, action string) error {
	err := e.updateAccountStatus(ctx, userID, status)
	if err == nil {
		e.metricInc(MetricAccountStatusChanged)
	}
	e.emitAudit(ctx, auditEventAccountStatusChange, err == nil, userID, err, func() map[string]string {
		return map[string]string{
			"action": action,
		}
	})
	return err
}

// updateAccountStatus stores status and relies on the version bump to retire
// every refresh token of the account.
func (e *Engine) updateAccountStatus(ctx context.Context, userID string, status AccountStatus) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrUserNotFound
	}

	current, err := e.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return unavailable(err)
	}

	if current.Status == status {
		return nil
	}

	updated, err := e.users.UpdateAccountStatus(ctx, userID, status)
	if err != nil {
		e.log.Error("account status update failed", zap.String("user_id", userID), zap.Error(err))
		return unavailable(err)
	}
	if updated.AccountVersion == current.AccountVersion {
		return ErrAccountVersionNotAdvanced
	}

	return nil
}
