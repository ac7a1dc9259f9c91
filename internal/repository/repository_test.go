package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/finance-tracker-auth/internal/domain"
	"github.com/sandeepkv93/finance-tracker-auth/internal/tenancy"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Use(tenancy.Plugin{}); err != nil {
		t.Fatalf("install tenancy: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.VerificationToken{}, &domain.Account{}, &domain.Transaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUser(t *testing.T, repo *GormUserRepository, email string) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, PasswordHash: "digest"}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return u
}

func TestUserRepositoryNormalizesEmail(t *testing.T) {
	repo := NewUserRepository(newDBForTest(t), time.Second)
	ctx := context.Background()
	u := createUser(t, repo, "  Alice@Example.COM ")
	if u.Email != "alice@example.com" {
		t.Fatalf("stored email %q", u.Email)
	}

	got, err := repo.FindByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("found id %d want %d", got.ID, u.ID)
	}
	if _, err := repo.FindByEmail(ctx, "bob@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := repo.Create(ctx, &domain.User{Email: "alice@EXAMPLE.com", PasswordHash: "x"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestUserRepositoryUpdateLoginState(t *testing.T) {
	repo := NewUserRepository(newDBForTest(t), time.Second)
	ctx := context.Background()
	u := createUser(t, repo, "carol@example.com")

	if err := repo.UpdateLoginState(ctx, u.ID, 5, true); err != nil {
		t.Fatalf("update login state: %v", err)
	}
	got, err := repo.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if got.FailedAttempts != 5 || !got.Locked {
		t.Fatalf("login state not persisted: %+v", got)
	}
	if got.PasswordHash != "digest" {
		t.Fatalf("unrelated column changed: %q", got.PasswordHash)
	}
	if err := repo.UpdateLoginState(ctx, 999, 1, false); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestVerificationTokenLifecycle(t *testing.T) {
	db := newDBForTest(t)
	users := NewUserRepository(db, time.Second)
	tokens := NewVerificationTokenRepository(db, time.Second)
	ctx := context.Background()
	now := time.Now().UTC()
	u := createUser(t, users, "dave@example.com")

	first := &domain.VerificationToken{UserID: u.ID, Token: "tok-1", ExpiresAt: now.Add(15 * time.Minute)}
	if err := tokens.Replace(ctx, first); err != nil {
		t.Fatalf("replace first: %v", err)
	}
	second := &domain.VerificationToken{UserID: u.ID, Token: "tok-2", ExpiresAt: now.Add(15 * time.Minute)}
	if err := tokens.Replace(ctx, second); err != nil {
		t.Fatalf("replace second: %v", err)
	}
	if _, err := tokens.FindUsable(ctx, "tok-1", now); !errors.Is(err, ErrVerificationTokenNotFound) {
		t.Fatalf("replaced token still usable: %v", err)
	}
	if _, err := tokens.FindUsable(ctx, "tok-2", now.Add(16*time.Minute)); !errors.Is(err, ErrVerificationTokenNotFound) {
		t.Fatalf("expired token usable: %v", err)
	}

	vt, err := tokens.FindUsable(ctx, "tok-2", now)
	if err != nil {
		t.Fatalf("find usable: %v", err)
	}
	if err := tokens.CompleteVerification(ctx, vt); err != nil {
		t.Fatalf("complete verification: %v", err)
	}
	if err := tokens.CompleteVerification(ctx, vt); !errors.Is(err, ErrVerificationTokenNotFound) {
		t.Fatalf("second verification: expected not found, got %v", err)
	}
	got, _ := users.FindByID(ctx, u.ID)
	if !got.EmailVerified {
		t.Fatal("user not verified")
	}
	if _, err := tokens.FindUsable(ctx, "tok-2", now); !errors.Is(err, ErrVerificationTokenNotFound) {
		t.Fatalf("consumed token still usable: %v", err)
	}
}

func TestVerificationTokenCompleteReset(t *testing.T) {
	db := newDBForTest(t)
	users := NewUserRepository(db, time.Second)
	tokens := NewVerificationTokenRepository(db, time.Second)
	ctx := context.Background()
	u := createUser(t, users, "erin@example.com")
	if err := users.UpdateLoginState(ctx, u.ID, 5, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	vt := &domain.VerificationToken{UserID: u.ID, Token: "reset-1", ExpiresAt: time.Now().Add(time.Minute)}
	if err := tokens.Replace(ctx, vt); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if err := tokens.CompleteReset(ctx, vt, "new-digest"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}
	got, _ := users.FindByID(ctx, u.ID)
	if got.Locked || got.FailedAttempts != 0 || got.PasswordHash != "new-digest" {
		t.Fatalf("reset not applied: %+v", got)
	}
	if err := tokens.CompleteReset(ctx, vt, "again"); !errors.Is(err, ErrVerificationTokenNotFound) {
		t.Fatalf("reused reset token: expected not found, got %v", err)
	}
}

func TestAccountRepositoryIsScoped(t *testing.T) {
	db := newDBForTest(t)
	accounts := NewAccountRepository(db, time.Second)
	txns := NewTransactionRepository(db, time.Second)

	var foreign domain.Account
	err := tenancy.Run(context.Background(), 2, func(ctx context.Context) error {
		foreign = domain.Account{Name: "theirs", Currency: "USD"}
		return accounts.Create(ctx, &foreign)
	})
	if err != nil {
		t.Fatalf("seed foreign: %v", err)
	}

	err = tenancy.Run(context.Background(), 1, func(ctx context.Context) error {
		for i := 0; i < 3; i++ {
			if err := accounts.Create(ctx, &domain.Account{Name: fmt.Sprintf("mine-%d", i), Currency: "USD"}); err != nil {
				return err
			}
		}
		page, err := accounts.List(ctx, PageRequest{Page: 1, PageSize: 2})
		if err != nil {
			return err
		}
		if page.Total != 3 || page.TotalPages != 2 || len(page.Items) != 2 {
			t.Fatalf("unexpected page: total=%d pages=%d items=%d", page.Total, page.TotalPages, len(page.Items))
		}
		if _, err := accounts.FindByID(ctx, foreign.ID); !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("foreign account visible: %v", err)
		}
		err = txns.Create(ctx, &domain.Transaction{AccountID: foreign.ID, AmountMinor: 100, OccurredAt: time.Now()})
		if !errors.Is(err, ErrAccountNotFound) {
			t.Fatalf("transaction on foreign account: expected ErrAccountNotFound, got %v", err)
		}
		own := page.Items[0]
		if err := txns.Create(ctx, &domain.Transaction{AccountID: own.ID, AmountMinor: -2500, OccurredAt: time.Now()}); err != nil {
			return err
		}
		list, err := txns.ListByAccount(ctx, own.ID, PageRequest{})
		if err != nil {
			return err
		}
		if list.Total != 1 || list.Items[0].UserID != 1 {
			t.Fatalf("unexpected transactions: %+v", list)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scoped run: %v", err)
	}
}
