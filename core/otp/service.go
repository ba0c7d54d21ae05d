package otp

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	GenerateCodeFunc = generateCode // mockable

	// errors
	ErrNotFound    = errors.New("otp not found")
	ErrExpired     = errors.New("otp expired")
	ErrInvalidCode = errors.New("invalid otp code")
)

type (
	Repository interface {
		CreateChallenge(ctx context.Context, ch Challenge, exec ...core.DBExecutor) (Challenge, error)
		// GetLatestUnverified returns the most recently created unverified challenge for email, or ErrNotFound.
		GetLatestUnverified(ctx context.Context, email string, exec ...core.DBExecutor) (Challenge, error)
		// MarkVerified flips is_verified only if it is still false. Returns ErrNotFound otherwise.
		MarkVerified(ctx context.Context, id int64, exec ...core.DBExecutor) error
		DeleteChallenges(ctx context.Context, email string, exec ...core.DBExecutor) (int64, error)
	}

	// Issuer generates, persists and validates one-time passcodes.
	Issuer struct {
		repo Repository
		ttl  time.Duration
	}
)

func NewIssuer(repo Repository, ttl time.Duration) *Issuer {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.GreaterThan(int(ttl), 0, "ttl"),
	).CheckAndPanic()

	return &Issuer{repo: repo, ttl: ttl}
}

// Issue creates a fresh challenge for email and returns its code. Prior challenges are kept.
func (iss *Issuer) Issue(ctx context.Context, email string, exec ...core.DBExecutor) (string, error) {
	code, err := GenerateCodeFunc()
	if err != nil {
		return "", errors.Wrap(err, "generating code")
	}

	now := core.Now()
	ch := Challenge{
		Email:     core.CleanString(email, true /* lower */),
		CodeHash:  HashCode(code),
		ExpiresAt: now.Add(iss.ttl),
		CreatedAt: now,
	}
	if _, err = iss.repo.CreateChallenge(ctx, ch, exec...); err != nil {
		return "", errors.Wrap(err, "creating challenge")
	}
	return code, nil
}

// Resend deletes every challenge for email, then issues a new one.
func (iss *Issuer) Resend(ctx context.Context, email string, exec ...core.DBExecutor) (string, error) {
	if _, err := iss.repo.DeleteChallenges(ctx, core.CleanString(email, true /* lower */), exec...); err != nil {
		return "", errors.Wrap(err, "deleting challenges")
	}
	return iss.Issue(ctx, email, exec...)
}

// Verify consumes the latest unverified challenge for email if code matches it before expiry.
// Expired or mismatched challenges are left untouched.
func (iss *Issuer) Verify(ctx context.Context, email, code string, exec ...core.DBExecutor) error {
	ch, err := iss.repo.GetLatestUnverified(ctx, core.CleanString(email, true /* lower */), exec...)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrNotFound
		}
		return errors.Wrap(err, "getting latest challenge")
	}

	if ch.IsExpired(core.Now()) {
		return ErrExpired
	}
	if !ch.Matches(code) {
		return ErrInvalidCode
	}

	// a concurrent verify may have consumed it in between
	if err = iss.repo.MarkVerified(ctx, ch.ID, exec...); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return ErrNotFound
		}
		return errors.Wrap(err, "marking challenge verified")
	}
	return nil
}
