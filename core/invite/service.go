package invite

import (
	"context"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound     = errors.New("invitation code not found")
	ErrInactive     = errors.New("invitation code inactive")
	ErrExpired      = errors.New("invitation code expired")
	ErrLimitReached = errors.New("invitation code usage limit reached")
	ErrCodeExists   = errors.New("an invitation code with this code already exists")
)

// IsRedeemError reports whether err is one of the reasons a code cannot be redeemed.
func IsRedeemError(err error) bool {
	switch errors.Cause(err) {
	case ErrNotFound, ErrInactive, ErrExpired, ErrLimitReached:
		return true
	}
	return false
}

type (
	Repository interface {
		GetCode(ctx context.Context, code string, exec ...core.DBExecutor) (Code, error)
		// IncrementUsage atomically adds 1 to used_count only if the code is redeemable at now.
		// ok is false, with a nil error, when no row qualified.
		IncrementUsage(ctx context.Context, code string, now time.Time, exec ...core.DBExecutor) (c Code, ok bool, err error)
		CreateCode(ctx context.Context, c Code, exec ...core.DBExecutor) (Code, error)
		QueryCodes(ctx context.Context, exec ...core.DBExecutor) ([]Code, error)
		// DeactivateCode sets is_active to false. Returns ErrNotFound for unknown codes.
		DeactivateCode(ctx context.Context, code string, now time.Time, exec ...core.DBExecutor) (Code, error)
	}

	// Ledger validates and consumes invitation codes.
	Ledger struct {
		repo  Repository
		audit core.AuditTrail
	}
)

func NewLedger(repo Repository, audit core.AuditTrail) *Ledger {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(audit, "audit"),
	).CheckAndPanic()

	return &Ledger{repo: repo, audit: audit}
}

// Redeem consumes one use of code (case-sensitive). Nothing is written on failure.
func (l *Ledger) Redeem(ctx context.Context, code string, exec ...core.DBExecutor) (Redemption, error) {
	// the conditional increment can only lose to a concurrent change of the row,
	// in which case the code is classified again
	for attempt := 0; attempt < 2; attempt++ {
		now := core.Now()
		c, ok, err := l.repo.IncrementUsage(ctx, code, now, exec...)
		if err != nil {
			return Redemption{}, errors.Wrap(err, "incrementing usage")
		}
		if ok {
			return Redemption{Role: c.Role, Code: c.Code}, nil
		}

		c, err = l.repo.GetCode(ctx, code, exec...)
		if err != nil {
			if errors.Cause(err) == ErrNotFound {
				return Redemption{}, ErrNotFound
			}
			return Redemption{}, errors.Wrap(err, "getting code")
		}
		if err = c.CheckRedeemable(now); err != nil {
			return Redemption{}, err
		}
	}
	return Redemption{}, ErrLimitReached
}

func (l *Ledger) Create(ctx context.Context, actor core.Caller, nc NewCode, exec ...core.DBExecutor) (Code, error) {
	now := core.Now()
	c := Code{
		Code:       nc.Code,
		Role:       nc.Role,
		UsageLimit: nc.UsageLimit,
		IsActive:   true,
		CreatedBy:  actor.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if nc.ExpiresAt != nil {
		exp := nc.ExpiresAt.UTC()
		c.ExpiresAt = &exp
	}

	c, err := l.repo.CreateCode(ctx, c, exec...)
	if err != nil {
		if errors.Cause(err) == ErrCodeExists {
			return Code{}, core.NewFieldValidationError("code", ErrCodeExists.Error())
		}
		return Code{}, errors.Wrap(err, "creating code")
	}
	l.audit.Log(ctx, actor, "invite.created", "invitation_code", c.Code, nil, c)
	return c, nil
}

func (l *Ledger) Query(ctx context.Context, exec ...core.DBExecutor) ([]Code, error) {
	return l.repo.QueryCodes(ctx, exec...)
}

func (l *Ledger) Deactivate(ctx context.Context, actor core.Caller, code string, exec ...core.DBExecutor) (Code, error) {
	c, err := l.repo.DeactivateCode(ctx, code, core.Now(), exec...)
	if err != nil {
		return Code{}, err
	}
	l.audit.Log(ctx, actor, "invite.deactivated", "invitation_code", c.Code,
		map[string]interface{}{"is_active": true}, map[string]interface{}{"is_active": false})
	return c, nil
}
