package boiledrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/storage/database"
)

var (
	inviteColumns = []string{
		"code", "role", "usage_limit", "used_count", "expires_at", "is_active", "created_by", "created_at", "updated_at",
	}
	inviteReturning = `RETURNING id, code, role, usage_limit, used_count, expires_at, is_active, created_by, created_at, updated_at`
	inviteSelect    = `SELECT id, code, role, usage_limit, used_count, expires_at, is_active, created_by, created_at, updated_at
FROM invitation_codes`
)

type inviteRow struct {
	ID         int64       `boil:"id"`
	Code       string      `boil:"code"`
	Role       string      `boil:"role"`
	UsageLimit null.Int    `boil:"usage_limit"`
	UsedCount  int         `boil:"used_count"`
	ExpiresAt  null.Time   `boil:"expires_at"`
	IsActive   bool        `boil:"is_active"`
	CreatedBy  null.String `boil:"created_by"`
	CreatedAt  time.Time   `boil:"created_at"`
	UpdatedAt  time.Time   `boil:"updated_at"`
}

func (r inviteRow) unboil() invite.Code {
	return invite.Code{
		ID:         r.ID,
		Code:       r.Code,
		Role:       r.Role,
		UsageLimit: r.UsageLimit.Ptr(),
		UsedCount:  r.UsedCount,
		ExpiresAt:  utcPtr(r.ExpiresAt),
		IsActive:   r.IsActive,
		CreatedBy:  r.CreatedBy.String,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type inviteRepository struct {
	exec core.DBExecutor
}

var _ invite.Repository = (*inviteRepository)(nil) // interface compliance check

func NewInviteRepository(exec core.DBExecutor) invite.Repository {
	return &inviteRepository{exec: exec}
}

func (repo inviteRepository) GetCode(ctx context.Context, code string, exec ...core.DBExecutor) (invite.Code, error) {
	var row inviteRow
	if err := queries.Raw(inviteSelect+" WHERE code = $1", code).Bind(ctx, getExec(repo.exec, exec), &row); err != nil {
		return invite.Code{}, trapNoRowsErr(err, invite.ErrNotFound, "finding invitation code")
	}
	return row.unboil(), nil
}

// IncrementUsage checks redeemability and increments in a single conditional UPDATE,
// so concurrent redemptions can never exceed the usage limit.
func (repo inviteRepository) IncrementUsage(ctx context.Context, code string, now time.Time, exec ...core.DBExecutor) (invite.Code, bool, error) {
	var row inviteRow
	err := queries.Raw(`UPDATE invitation_codes
SET used_count = used_count + 1, updated_at = $2
WHERE code = $1
  AND is_active
  AND (expires_at IS NULL OR expires_at > $2)
  AND (usage_limit IS NULL OR used_count < usage_limit)
`+inviteReturning, code, now.UTC()).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return invite.Code{}, false, nil
		}
		return invite.Code{}, false, errors.Wrap(err, "incrementing invitation code usage")
	}
	return row.unboil(), true, nil
}

func (repo inviteRepository) CreateCode(ctx context.Context, c invite.Code, exec ...core.DBExecutor) (invite.Code, error) {
	var expiresAt null.Time
	if c.ExpiresAt != nil {
		expiresAt = null.TimeFrom(c.ExpiresAt.UTC())
	}

	var row inviteRow
	err := queries.Raw(insertQuery("invitation_codes", inviteColumns)+" "+inviteReturning,
		c.Code, c.Role, null.IntFromPtr(c.UsageLimit), c.UsedCount, expiresAt, c.IsActive,
		null.NewString(c.CreatedBy, c.CreatedBy != ""), c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		if database.IsUniqueViolation(err, "invitation_codes_code_key") {
			return invite.Code{}, invite.ErrCodeExists
		}
		return invite.Code{}, errors.Wrap(err, "inserting invitation code")
	}
	return row.unboil(), nil
}

func (repo inviteRepository) QueryCodes(ctx context.Context, exec ...core.DBExecutor) ([]invite.Code, error) {
	var rows []inviteRow
	if err := queries.Raw(inviteSelect+" ORDER BY created_at DESC, id DESC").Bind(ctx, getExec(repo.exec, exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying invitation codes")
	}
	codes := make([]invite.Code, 0, len(rows))
	for _, r := range rows {
		codes = append(codes, r.unboil())
	}
	return codes, nil
}

func (repo inviteRepository) DeactivateCode(ctx context.Context, code string, now time.Time, exec ...core.DBExecutor) (invite.Code, error) {
	var row inviteRow
	err := queries.Raw(`UPDATE invitation_codes SET is_active = FALSE, updated_at = $2 WHERE code = $1 `+inviteReturning,
		code, now.UTC()).Bind(ctx, getExec(repo.exec, exec), &row)
	if err != nil {
		return invite.Code{}, trapNoRowsErr(err, invite.ErrNotFound, "deactivating invitation code")
	}
	return row.unboil(), nil
}
