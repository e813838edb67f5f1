package authcore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrValidationFailed reports malformed client input.
	ErrValidationFailed = errors.New("validation failed")
	// ErrEmailTaken reports a registration for an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials reports a failed login. It never says which field was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidCurrentPassword reports a failed current-password check on change.
	ErrInvalidCurrentPassword = errors.New("invalid current password")
	// ErrSamePassword reports a password change to the current password.
	ErrSamePassword = errors.New("new password must be different from current password")
	// ErrAccountInactive reports a login to a disabled or locked account.
	ErrAccountInactive = errors.New("account inactive")
	// ErrRateLimited is wrapped by [RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidRefreshToken reports any refresh failure. The reason is audit-only.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrUnauthenticated reports a missing, invalid or expired access token.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrCSRFTokenMissing reports a state-changing request without X-CSRF-Token.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenInvalid reports a forged or expired X-CSRF-Token.
	ErrCSRFTokenInvalid = errors.New("csrf token invalid")
	// ErrServiceUnavailable wraps counter-store and user-store faults.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrRegistrationDisabled is returned by Register when sign-up is turned off.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")

	// ErrUserNotFound must be returned by a UserProvider for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrProviderDuplicateIdentifier must be returned by a UserProvider when
	// CreateUser collides with an existing identifier.
	ErrProviderDuplicateIdentifier = errors.New("provider duplicate identifier")
	// ErrAccountVersionNotAdvanced reports a UserProvider that changed a
	// password or status without advancing AccountVersion.
	ErrAccountVersionNotAdvanced = errors.New("account version not advanced")
)

// Kind is the client-facing error taxonomy. Its value is the stable error code.
type Kind string

const (
	// KindValidationFailed means request fields failed validation.
	KindValidationFailed       Kind = "VALIDATION_FAILED"
	// KindEmailTaken means the email is already registered.
	KindEmailTaken             Kind = "EMAIL_TAKEN"
	// KindInvalidCredentials means the email or password is wrong.
	KindInvalidCredentials     Kind = "INVALID_CREDENTIALS"
	// KindInvalidCurrentPassword means the current password did not verify.
	KindInvalidCurrentPassword Kind = "INVALID_CURRENT_PASSWORD"
	// KindSamePassword means the new password equals the current one.
	KindSamePassword           Kind = "SAME_PASSWORD"
	// KindAccountInactive means the account is disabled or locked.
	KindAccountInactive        Kind = "ACCOUNT_INACTIVE"
	// KindRateLimited means the attempt budget is exhausted.
	KindRateLimited            Kind = "RATE_LIMITED"
	// KindInvalidRefreshToken means the refresh token is unusable for any reason.
	KindInvalidRefreshToken    Kind = "INVALID_REFRESH_TOKEN"
	// KindUnauthenticated means no valid access token was presented.
	KindUnauthenticated        Kind = "UNAUTHENTICATED"
	// KindCSRFTokenMissing means a state-changing request carried no CSRF header.
	KindCSRFTokenMissing       Kind = "CSRF_TOKEN_MISSING"
	// KindCSRFTokenInvalid means the CSRF header is forged or expired.
	KindCSRFTokenInvalid       Kind = "CSRF_TOKEN_INVALID"
	// KindRegistrationDisabled means self-registration is turned off.
	KindRegistrationDisabled   Kind = "REGISTRATION_DISABLED"
	// KindServiceUnavailable means a backing store failed.
	KindServiceUnavailable     Kind = "SERVICE_UNAVAILABLE"
	// KindInternal means anything not covered above.
	KindInternal               Kind = "INTERNAL_ERROR"
)

const genericCredentialsMessage = "Invalid email or password."

var kindMessages = map[Kind]string{
	KindValidationFailed: "The request is invalid.",
	KindEmailTaken:       "An account with this email already exists.",
	// Identical wording for both credential kinds.
	KindInvalidCredentials:     genericCredentialsMessage,
	KindInvalidCurrentPassword: genericCredentialsMessage,
	KindSamePassword:           "The new password must differ from the current password.",
	KindAccountInactive:        "This account is not active.",
	KindRateLimited:            "Too many attempts. Try again later.",
	KindInvalidRefreshToken:    "The session could not be refreshed. Sign in again.",
	KindUnauthenticated:        "Authentication required.",
	KindCSRFTokenMissing:       "A CSRF token is required for this request.",
	KindCSRFTokenInvalid:       "The CSRF token is invalid or expired.",
	KindRegistrationDisabled:   "Registration is not available.",
	KindServiceUnavailable:     "The service is temporarily unavailable.",
	KindInternal:               "An internal error occurred.",
}

// Message returns the client-safe message for k.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return kindMessages[KindInternal]
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidationFailed):
		return KindValidationFailed
	case errors.Is(err, ErrEmailTaken):
		return KindEmailTaken
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrInvalidCurrentPassword):
		return KindInvalidCurrentPassword
	case errors.Is(err, ErrSamePassword):
		return KindSamePassword
	case errors.Is(err, ErrAccountInactive):
		return KindAccountInactive
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidRefreshToken):
		return KindInvalidRefreshToken
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrCSRFTokenMissing):
		return KindCSRFTokenMissing
	case errors.Is(err, ErrCSRFTokenInvalid):
		return KindCSRFTokenInvalid
	case errors.Is(err, ErrRegistrationDisabled):
		return KindRegistrationDisabled
	case errors.Is(err, ErrServiceUnavailable):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}

// ValidationError names the offending fields. Field messages are client-safe.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, ", "))
}

// Unwrap returns [ErrValidationFailed].
func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// RateLimitError carries the window reset time of a denied attempt.
type RateLimitError struct {
	Scope      string
	ResetAt    time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %s", ErrRateLimited, e.Scope, e.RetryAfter)
}

// Unwrap returns [ErrRateLimited].
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}
