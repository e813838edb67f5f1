package authcore

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts may sign in.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts were switched off by an operator.
	AccountDisabled
	// AccountLocked accounts are blocked pending review.
	AccountLocked
	// AccountDeleted accounts are treated as nonexistent.
	AccountDeleted
)

// String returns the lowercase status name stored by user stores.
func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountLocked:
		return "locked"
	case AccountDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseAccountStatus is the inverse of [AccountStatus.String].
func ParseAccountStatus(s string) (AccountStatus, bool) {
	for _, st := range []AccountStatus{AccountActive, AccountDisabled, AccountLocked, AccountDeleted} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// UserRecord is the account record returned by [UserProvider].
//
// AccountVersion must advance on every password or status change. Refresh
// tokens embed the version they were issued under and stop working once it moves.
type UserRecord struct {
	UserID         string
	Identifier     string
	DisplayName    string
	Role           string
	PasswordHash   string
	Status         AccountStatus
	AccountVersion uint32
	CreatedAt      time.Time
}

// CreateUserInput is passed to [UserProvider.CreateUser].
type CreateUserInput struct {
	Identifier   string
	DisplayName  string
	Role         string
	PasswordHash string
	Status       AccountStatus
}

// UserProvider is the boundary to the account store. Implementations return
// [ErrUserNotFound] and [ErrProviderDuplicateIdentifier] for the expected
// outcomes; any other error is treated as a store fault.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	// UpdatePasswordHash stores a new hash and advances AccountVersion atomically.
	UpdatePasswordHash(ctx context.Context, userID, newHash string) (UserRecord, error)
	// UpgradePasswordHash replaces oldHash with newHash (parameter upgrade)
	// without touching AccountVersion. When the stored hash no longer equals
	// oldHash the call is a no-op and returns nil.
	UpgradePasswordHash(ctx context.Context, userID, oldHash, newHash string) error
	// UpdateAccountStatus stores a new status and advances AccountVersion atomically.
	UpdateAccountStatus(ctx context.Context, userID string, status AccountStatus) (UserRecord, error)
}

// Profile is the client-visible view of an account.
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProfileOf projects a record to its public profile.
func ProfileOf(u UserRecord) Profile {
	return Profile{
		ID:          u.UserID,
		Email:       u.Identifier,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

// Principal is the authenticated caller derived from an access token.
type Principal struct {
	Subject string
	Role    string
}

// RegisterInput is the sign-up request.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// SessionResult is returned by every operation that authenticates a caller.
//
// Only User and CSRFToken belong in a response body; the bearer tokens travel
// in cookies. RefreshToken is empty when a refresh did not rotate it.
type SessionResult struct {
	User             Profile
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
