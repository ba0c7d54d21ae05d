package invite

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

// Code is an invitation code granting a role to whoever registers with it.
type Code struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	Role       string     `json:"role"`
	UsageLimit *int       `json:"usage_limit"` // nil: unlimited
	UsedCount  int        `json:"used_count"`
	ExpiresAt  *time.Time `json:"expires_at"` // nil: never; UTC
	IsActive   bool       `json:"is_active"`
	CreatedBy  string     `json:"created_by,omitempty"` // account ID
	CreatedAt  time.Time  `json:"created_at"`           // UTC
	UpdatedAt  time.Time  `json:"updated_at"`           // UTC
}

// CheckRedeemable returns why the code cannot be redeemed at now, or nil.
// Checks run in order: active, expiry, usage limit.
func (c Code) CheckRedeemable(now time.Time) error {
	if !c.IsActive {
		return ErrInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrLimitReached
	}
	return nil
}

// Redemption is the outcome of a successful redeem.
type Redemption struct {
	Role string `json:"role"`
	Code string `json:"code"`
}

// NewCode contains information needed to create a new invitation Code.
type NewCode struct {
	Code       string     `json:"code" validate:"required,max=50,alphanum_"`
	Role       string     `json:"role" validate:"required,role"`
	UsageLimit *int       `json:"usage_limit" validate:"omitempty,min=1"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (nc *NewCode) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code)
	nc.Role = core.CleanString(nc.Role, true /* lower */)
	if err := validate.Struct(nc); err != nil {
		return err
	}
	if nc.ExpiresAt != nil && !nc.ExpiresAt.After(core.Now()) {
		return core.NewFieldValidationError("expires_at", "expires_at must be in the future")
	}
	return nil
}
