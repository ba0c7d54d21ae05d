package boiledrepos

import (
	"context"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/otp"
)

var challengeColumns = []string{"email", "code_hash", "expires_at", "is_verified", "created_at"}

type challengeRow struct {
	ID         int64     `boil:"id"`
	Email      string    `boil:"email"`
	CodeHash   string    `boil:"code_hash"`
	ExpiresAt  time.Time `boil:"expires_at"`
	IsVerified bool      `boil:"is_verified"`
	CreatedAt  time.Time `boil:"created_at"`
}

type otpRepository struct {
	exec core.DBExecutor
}

var _ otp.Repository = (*otpRepository)(nil) // interface compliance check

func NewOTPRepository(exec core.DBExecutor) otp.Repository {
	return &otpRepository{exec: exec}
}

func (repo otpRepository) CreateChallenge(ctx context.Context, ch otp.Challenge, exec ...core.DBExecutor) (otp.Challenge, error) {
	var row struct {
		ID int64 `boil:"id"`
	}
	err := queries.Raw(insertQuery("otp_challenges", challengeColumns, "id"),
		ch.Email, ch.CodeHash, ch.ExpiresAt.UTC(), ch.IsVerified, ch.CreatedAt.UTC(),
	).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return otp.Challenge{}, errors.Wrap(err, "inserting challenge")
	}
	ch.ID = row.ID
	return ch, nil
}

func (repo otpRepository) GetLatestUnverified(ctx context.Context, email string, exec ...core.DBExecutor) (otp.Challenge, error) {
	var row challengeRow
	err := queries.Raw(`SELECT id, email, code_hash, expires_at, is_verified, created_at
FROM otp_challenges
WHERE email = $1 AND is_verified = FALSE
ORDER BY created_at DESC, id DESC
LIMIT 1`, email).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return otp.Challenge{}, trapNoRowsErr(err, otp.ErrNotFound, "finding latest challenge")
	}
	return otp.Challenge{
		ID:         row.ID,
		Email:      row.Email,
		CodeHash:   row.CodeHash,
		ExpiresAt:  row.ExpiresAt.UTC(),
		IsVerified: row.IsVerified,
		CreatedAt:  row.CreatedAt.UTC(),
	}, nil
}

func (repo otpRepository) MarkVerified(ctx context.Context, id int64, exec ...core.DBExecutor) error {
	res, err := queries.Raw(`UPDATE otp_challenges SET is_verified = TRUE WHERE id = $1 AND is_verified = FALSE`, id).
		ExecContext(ctx, getExec(repo.exec, exec))
	return rowsAffected(res, err, otp.ErrNotFound, "marking challenge verified")
}

func (repo otpRepository) DeleteChallenges(ctx context.Context, email string, exec ...core.DBExecutor) (int64, error) {
	res, err := queries.Raw(`DELETE FROM otp_challenges WHERE email = $1`, email).ExecContext(ctx, getExec(repo.exec, exec))
	if err != nil {
		return 0, errors.Wrap(err, "deleting challenges")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting challenges")
	}
	return n, nil
}
