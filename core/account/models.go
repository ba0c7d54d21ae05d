package account

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
)

// Statuses
const (
	StatusPending  = "pending"
	StatusActive   = "active"
	StatusRejected = "rejected"
)

type Account struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Email              string     `json:"email"`
	PasswordHash       []byte     `json:"-"`
	Role               string     `json:"role"`
	Status             string     `json:"status"`
	EmailVerifiedAt    *time.Time `json:"email_verified_at"`    // UTC
	InvitationCodeUsed *string    `json:"invitation_code_used"` // copy of the redeemed code, not a reference
	SessionVersion     int        `json:"-"`
	LastLogin          *time.Time `json:"last_login"` // UTC
	CreatedAt          time.Time  `json:"created_at"` // UTC
	UpdatedAt          time.Time  `json:"updated_at"` // UTC
	Profile            *Profile   `json:"profile,omitempty"`
}

type Profile struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"user_id"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Image     string    `json:"image"` // relative storage path
	Type      string    `json:"type"`  // role at registration
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Account) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a Account) IsVerified() bool { return a.EmailVerifiedAt != nil }
func (a Account) IsAdmin() bool    { return a.Role == core.RoleAdmin }
func (a Account) IsPending() bool  { return a.Status == StatusPending }
func (a Account) IsRejected() bool { return a.Status == StatusRejected }

// Caller returns the identity used when acting on behalf of a.
func (a Account) Caller() core.Caller {
	return core.Caller{ID: a.ID, Name: a.Name, Email: a.Email}
}

// NewAccount contains information needed to register a new Account.
type NewAccount struct {
	Name            string `json:"name" form:"name" validate:"required,notblank,max=255"`
	Email           string `json:"email" form:"email" validate:"required,email,max=255"`
	Password        string `json:"password" form:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirmation" form:"password_confirmation" validate:"required,eqfield=Password"`
	Phone           string `json:"phone" form:"phone" validate:"omitempty,max=20"`
	Address         string `json:"address" form:"address" validate:"omitempty,max=500"`
	InvitationCode  string `json:"invitation_code" form:"invitation_code" validate:"omitempty,max=50"`

	Image *core.Upload `json:"-" form:"-"`
}

func (na *NewAccount) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	na.Name = core.CleanString(na.Name)
	na.Email = core.CleanString(na.Email, true /* lower */)
	na.Phone = core.CleanString(na.Phone)
	na.Address = core.CleanString(na.Address)
	na.InvitationCode = core.CleanString(na.InvitationCode)

	if err := validate.Struct(na); err != nil {
		return err
	}
	if msg := svc.checkPassword(na.Password, na.Name, na.Email); msg != "" {
		return core.NewFieldValidationError("password", msg)
	}
	return svc.checkUniqueness(ctx, na.Email)
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (c *Credentials) Validate(validate *validator.Validate) error {
	c.Email = core.CleanString(c.Email, true /* lower */)
	return validate.Struct(c)
}

type VerifyOTP struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"otp" validate:"required,otpcode"`
}

func (v *VerifyOTP) Validate(validate *validator.Validate) error {
	v.Email = core.CleanString(v.Email, true /* lower */)
	v.Code = core.CleanString(v.Code)
	return validate.Struct(v)
}

type ResendOTP struct {
	Email string `json:"email" validate:"required,email"`
}

func (r *ResendOTP) Validate(validate *validator.Validate) error {
	r.Email = core.CleanString(r.Email, true /* lower */)
	return validate.Struct(r)
}

// Approval is an administrator's decision on a pending Account.
type Approval struct {
	Role string `json:"role" validate:"omitempty,role"`
}

type QueryFilter struct {
	Role   string
	Status string
}

type GetFilter struct {
	ID    string
	Email string
}

// Registration is the outcome of a successful registration.
type Registration struct {
	Account              Account
	RequiresVerification bool
	OTPCode              string // only set when codes may be exposed
}

// Session is an authenticated Account and its bearer token.
type Session struct {
	Token   string
	Account Account
}
