package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerwise/authcore"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const userColumns = `id, email, display_name, role, password_hash, status, account_version, created_at`

// Store is an authcore.UserProvider backed by a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ authcore.UserProvider = (*Store)(nil)

// Open connects to dsn and applies pending migrations. Writes are serialized
// through a single connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	// Enforce FKs
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, now: time.Now}
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, identifier)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	now := s.now().UTC()
	u := authcore.UserRecord{
		UserID:         uuid.NewString(),
		Identifier:     in.Identifier,
		DisplayName:    in.DisplayName,
		Role:           in.Role,
		PasswordHash:   in.PasswordHash,
		Status:         in.Status,
		AccountVersion: 1,
		CreatedAt:      time.UnixMilli(now.UnixMilli()).UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash, status, account_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.Identifier, u.DisplayName, u.Role, u.PasswordHash,
		u.Status.String(), u.AccountVersion, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return authcore.UserRecord{}, authcore.ErrProviderDuplicateIdentifier
		}
		return authcore.UserRecord{}, err
	}
	return u, nil
}

// UpdatePasswordHash stores newHash and advances account_version in one
// statement.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, newHash string) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET password_hash = ?, account_version = account_version + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+userColumns,
		newHash, s.now().UnixMilli(), userID,
	)
	return scanUser(row)
}

// UpgradePasswordHash swaps the hash only while it still equals oldHash, so a
// concurrent password change always wins.
func (s *Store) UpgradePasswordHash(ctx context.Context, userID, oldHash, newHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND password_hash = ?`,
		newHash, s.now().UnixMilli(), userID, oldHash,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return authcore.ErrUserNotFound
	}
	return nil
}

// UpdateAccountStatus stores status and advances account_version in one
// statement.
func (s *Store) UpdateAccountStatus(ctx context.Context, userID string, status authcore.AccountStatus) (authcore.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET status = ?, account_version = account_version + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+userColumns,
		status.String(), s.now().UnixMilli(), userID,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (authcore.UserRecord, error) {
	var (
		u         authcore.UserRecord
		status    string
		version   int64
		createdAt int64
	)
	err := row.Scan(&u.UserID, &u.Identifier, &u.DisplayName, &u.Role, &u.PasswordHash, &status, &version, &createdAt)
	if err != nil {
		return authcore.UserRecord{}, mapNotFound(err)
	}

	st, ok := authcore.ParseAccountStatus(status)
	if !ok {
		return authcore.UserRecord{}, fmt.Errorf("user %s: unknown status %q", u.UserID, status)
	}
	u.Status = st
	u.AccountVersion = uint32(version)
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return u, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.ErrUserNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
