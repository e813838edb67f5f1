// Package storetest is the behaviour suite every authcore.UserProvider in
// this module must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ledgerwise/authcore"
)

// Factory returns a fresh, empty provider for one subtest.
type Factory func(t *testing.T) authcore.UserProvider

// Run executes the suite against providers built by newProvider.
func Run(t *testing.T, newProvider Factory) {
	t.Helper()

	t.Run("create and fetch", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		created := mustCreate(t, p, "alice@example.com")
		if created.UserID == "" {
			t.Fatal("expected a generated user id")
		}
		if created.AccountVersion == 0 {
			t.Fatal("expected a non-zero initial account version")
		}
		if created.CreatedAt.IsZero() {
			t.Fatal("expected CreatedAt to be set")
		}

		byID, err := p.GetUserByID(ctx, created.UserID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		byIdent, err := p.GetUserByIdentifier(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("GetUserByIdentifier: %v", err)
		}
		if byID.UserID != byIdent.UserID || byID.Role != "user" || byID.DisplayName != "Alice" {
			t.Fatalf("unexpected records %+v %+v", byID, byIdent)
		}
		if byID.Status != authcore.AccountActive || byID.PasswordHash != "hash-1" {
			t.Fatalf("unexpected stored fields %+v", byID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()

		if _, err := p.GetUserByID(ctx, "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := p.GetUserByIdentifier(ctx, "nobody@example.com"); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := p.UpdatePasswordHash(ctx, "missing", "h"); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if err := p.UpgradePasswordHash(ctx, "missing", "h", "h2"); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := p.UpdateAccountStatus(ctx, "missing", authcore.AccountLocked); !errors.Is(err, authcore.ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		p := newProvider(t)
		mustCreate(t, p, "alice@example.com")

		_, err := p.CreateUser(context.Background(), input("alice@example.com"))
		if !errors.Is(err, authcore.ErrProviderDuplicateIdentifier) {
			t.Fatalf("expected ErrProviderDuplicateIdentifier, got %v", err)
		}
	})

	t.Run("password change advances version", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		created := mustCreate(t, p, "alice@example.com")

		updated, err := p.UpdatePasswordHash(ctx, created.UserID, "hash-2")
		if err != nil {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}
		if updated.PasswordHash != "hash-2" || updated.AccountVersion != created.AccountVersion+1 {
			t.Fatalf("unexpected record after change %+v", updated)
		}

		stored, err := p.GetUserByID(ctx, created.UserID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if stored.AccountVersion != updated.AccountVersion {
			t.Fatalf("returned version %d differs from stored %d", updated.AccountVersion, stored.AccountVersion)
		}
	})

	t.Run("hash upgrade keeps version", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		created := mustCreate(t, p, "alice@example.com")

		if err := p.UpgradePasswordHash(ctx, created.UserID, created.PasswordHash, "hash-upgraded"); err != nil {
			t.Fatalf("UpgradePasswordHash: %v", err)
		}
		stored, err := p.GetUserByID(ctx, created.UserID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if stored.PasswordHash != "hash-upgraded" || stored.AccountVersion != created.AccountVersion {
			t.Fatalf("unexpected record after upgrade %+v", stored)
		}
	})

	t.Run("hash upgrade skips a changed hash", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		created := mustCreate(t, p, "alice@example.com")

		changed, err := p.UpdatePasswordHash(ctx, created.UserID, "hash-2")
		if err != nil {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}
		if err := p.UpgradePasswordHash(ctx, created.UserID, created.PasswordHash, "hash-upgraded"); err != nil {
			t.Fatalf("UpgradePasswordHash with stale hash: %v", err)
		}

		stored, err := p.GetUserByID(ctx, created.UserID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if stored.PasswordHash != "hash-2" || stored.AccountVersion != changed.AccountVersion {
			t.Fatalf("stale upgrade overwrote the changed password %+v", stored)
		}
	})

	t.Run("status change advances version", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		created := mustCreate(t, p, "alice@example.com")

		updated, err := p.UpdateAccountStatus(ctx, created.UserID, authcore.AccountLocked)
		if err != nil {
			t.Fatalf("UpdateAccountStatus: %v", err)
		}
		if updated.Status != authcore.AccountLocked || updated.AccountVersion != created.AccountVersion+1 {
			t.Fatalf("unexpected record after status change %+v", updated)
		}
	})

	t.Run("concurrent version bumps are not lost", func(t *testing.T) {
		p := newProvider(t)
		ctx := context.Background()
		created := mustCreate(t, p, "alice@example.com")

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := p.UpdatePasswordHash(ctx, created.UserID, fmt.Sprintf("hash-%d", i)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("UpdatePasswordHash: %v", err)
		}

		stored, err := p.GetUserByID(ctx, created.UserID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if stored.AccountVersion != created.AccountVersion+writers {
			t.Fatalf("expected version %d, got %d", created.AccountVersion+writers, stored.AccountVersion)
		}
	})
}

func input(identifier string) authcore.CreateUserInput {
	return authcore.CreateUserInput{
		Identifier:   identifier,
		DisplayName:  "Alice",
		Role:         "user",
		PasswordHash: "hash-1",
		Status:       authcore.AccountActive,
	}
}

func mustCreate(t *testing.T, p authcore.UserProvider, identifier string) authcore.UserRecord {
	t.Helper()

	u, err := p.CreateUser(context.Background(), input(identifier))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}
