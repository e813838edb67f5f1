package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ChangePassword replaces the password of subject. The store advances the
// account version with the new hash, so every refresh token issued before the
// change stops working. The caller receives a fresh session.
func (e *Engine) ChangePassword(ctx context.Context, subject, current, next string) (*SessionResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if subject == "" {
		return nil, ErrUnauthenticated
	}
	if current == "" || next == "" {
		err := &ValidationError{Fields: map[string]string{}}
		if current == "" {
			err.Fields["currentPassword"] = "is required"
		}
		if next == "" {
			err.Fields["newPassword"] = "is required"
		}
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, err)
	}

	user, err := e.users.GetUserByID(ctx, subject)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, ErrUnauthenticated)
	case err != nil:
		e.log.Error("user lookup failed", zap.Error(err))
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, unavailable(err))
	case user.Status != AccountActive:
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, ErrAccountInactive)
	}

	ok, err := e.hasher.Verify(current, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeInvalidOld, ErrInvalidCurrentPassword)
	}

	if next == current {
		e.metricInc(MetricPasswordChangeReuseRejected)
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeReuse, ErrSamePassword)
	}

	if err := e.policy.Validate(next, user.Identifier, user.DisplayName); err != nil {
		verr := newValidationError("newPassword", policyMessage(err))
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, verr)
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, err)
	}

	updated, err := e.users.UpdatePasswordHash(ctx, subject, hash)
	if err != nil {
		e.log.Error("password update failed", zap.String("user_id", subject), zap.Error(err))
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, unavailable(err))
	}
	if updated.AccountVersion == user.AccountVersion {
		e.log.Error("password update did not advance account version", zap.String("user_id", subject))
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, ErrAccountVersionNotAdvanced)
	}

	res, err := e.issueSession(updated, true)
	if err != nil {
		return nil, e.passwordChangeFailed(ctx, subject, auditEventPasswordChangeFailure, err)
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, subject, nil, nil)
	return res, nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, userID, event string, err error) error {
	e.emitAudit(ctx, event, false, userID, err, nil)
	return err
}
