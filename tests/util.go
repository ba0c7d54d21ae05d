package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/storage/database"
)

// OpenDB connects to the test postgres database described by the TEST_* environment, creates and migrates it,
// and empties every table. Tests are skipped unless TEST_DATABASE_HOST is set.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST not set; skipping postgres tests")
	}
	if err := os.Setenv("ENV", "TEST"); err != nil {
		t.Fatalf("OpenDB(): %v", err)
	}
	conf := core.NewConfig()
	conf.Database.Engine = "postgres"

	if err := database.CreateIfNotExist(conf); err != nil {
		t.Fatalf("OpenDB(): %v", err)
	}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("OpenDB(): %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("OpenDB(): %v", err)
	}
	if _, err = db.Exec(`TRUNCATE audit_logs, invitation_codes, otp_challenges, profiles, accounts RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("OpenDB(): truncating: %v", err)
	}
	return db
}

func CreateAccount(
	t *testing.T,
	repo account.Repository,
	name, email, pwd, role, status string,
	verified bool,
	createdAt ...time.Time,
) account.Account {
	t.Helper()
	tstamp := core.Now()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acc := account.Account{
		Name:      name,
		Email:     email,
		Role:      role,
		Status:    status,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if verified {
		acc.EmailVerifiedAt = &tstamp
	}
	if err := acc.SetPassword(pwd); err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}

	ctx := context.Background()
	acc, err := repo.CreateAccount(ctx, acc)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	prof, err := repo.CreateProfile(ctx, account.Profile{AccountID: acc.ID, Type: role, CreatedAt: tstamp, UpdatedAt: tstamp})
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	acc.Profile = &prof
	return acc
}

func CreateInvite(t *testing.T, repo invite.Repository, code, role string, usageLimit *int, expiresAt *time.Time) invite.Code {
	t.Helper()
	now := core.Now()
	c, err := repo.CreateCode(context.Background(), invite.Code{
		Code:       code,
		Role:       role,
		UsageLimit: usageLimit,
		ExpiresAt:  expiresAt,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("CreateInvite() failed: %v", err)
	}
	return c
}
