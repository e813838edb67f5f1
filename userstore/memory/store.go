package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerwise/authcore"
)

// Store is an in-process authcore.UserProvider. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	users        map[string]authcore.UserRecord
	byIdentifier map[string]string
	now          func() time.Time
}

var _ authcore.UserProvider = (*Store)(nil)

// New returns an empty store. A nil now uses time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		users:        make(map[string]authcore.UserRecord),
		byIdentifier: make(map[string]string),
		now:          now,
	}
}

func (s *Store) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdentifier[identifier]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byIdentifier[in.Identifier]; ok {
		return authcore.UserRecord{}, authcore.ErrProviderDuplicateIdentifier
	}

	u := authcore.UserRecord{
		UserID:         uuid.NewString(),
		Identifier:     in.Identifier,
		DisplayName:    in.DisplayName,
		Role:           in.Role,
		PasswordHash:   in.PasswordHash,
		Status:         in.Status,
		AccountVersion: 1,
		CreatedAt:      s.now().UTC(),
	}
	s.users[u.UserID] = u
	s.byIdentifier[u.Identifier] = u.UserID
	return u, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, newHash string) (authcore.UserRecord, error) {
	return s.update(userID, func(u *authcore.UserRecord) {
		u.PasswordHash = newHash
		u.AccountVersion++
	})
}

func (s *Store) UpgradePasswordHash(_ context.Context, userID, oldHash, newHash string) error {
	_, err := s.update(userID, func(u *authcore.UserRecord) {
		if u.PasswordHash == oldHash {
			u.PasswordHash = newHash
		}
	})
	return err
}

func (s *Store) UpdateAccountStatus(_ context.Context, userID string, status authcore.AccountStatus) (authcore.UserRecord, error) {
	return s.update(userID, func(u *authcore.UserRecord) {
		u.Status = status
		u.AccountVersion++
	})
}

// Len reports the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Store) update(userID string, fn func(*authcore.UserRecord)) (authcore.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	fn(&u)
	s.users[userID] = u
	return u, nil
}
