package authcore

import (
	"context"
	"errors"

	"github.com/ledgerwise/authcore/internal/rate"
	"github.com/ledgerwise/authcore/internal/revocation"
)

const (
	auditEventRegisterSuccess          = "register_success"
	auditEventRegisterFailure          = "register_failure"
	auditEventLoginSuccess             = "login_success"
	auditEventLoginFailure             = "login_failure"
	auditEventRefreshSuccess           = "refresh_success"
	auditEventRefreshInvalid           = "refresh_invalid"
	auditEventRefreshReuseDetected     = "refresh_reuse_detected"
	auditEventLogout                   = "logout"
	auditEventPasswordChangeSuccess    = "password_change_success"
	auditEventPasswordChangeInvalidOld = "password_change_invalid_old"
	auditEventPasswordChangeReuse      = "password_change_reuse_attempt"
	auditEventPasswordChangeFailure    = "password_change_failure"
	auditEventAccountStatusChange      = "account_status_change"
	auditEventRateLimitTriggered       = "rate_limit_triggered"
	auditEventCSRFRejected             = "csrf_rejected"
)

// AuditErrorCode is the stable failure code recorded in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidCurrent     AuditErrorCode = "invalid_current_password"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrUnauthenticated    AuditErrorCode = "unauthenticated"
	auditErrCSRFMissing        AuditErrorCode = "csrf_missing"
	auditErrCSRFInvalid        AuditErrorCode = "csrf_invalid"
	auditErrRegistrationClosed AuditErrorCode = "registration_disabled"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		RequestID: RequestIDFromContext(ctx),
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, identifier string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"scope":      scope,
			"identifier": identifier,
		}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidationFailed):
		return auditErrValidation
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrProviderDuplicateIdentifier):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidCurrentPassword):
		return auditErrInvalidCurrent
	case errors.Is(err, ErrSamePassword):
		return auditErrPasswordReuse
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidRefreshToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrCSRFTokenMissing):
		return auditErrCSRFMissing
	case errors.Is(err, ErrCSRFTokenInvalid):
		return auditErrCSRFInvalid
	case errors.Is(err, ErrRegistrationDisabled):
		return auditErrRegistrationClosed
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, rate.ErrStoreUnavailable),
		errors.Is(err, revocation.ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
