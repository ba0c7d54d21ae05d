package account

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
)

const otpEmailTemplate = "otp"

var (
	// errors
	ErrNotFound           = errors.New("account not found")
	ErrEmailExists        = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrAccountRejected    = errors.New("account rejected")
	ErrNotPending         = errors.New("account is not pending")
	ErrRoleRequired       = errors.New("a student, teacher or admin role must be assigned")
	ErrRefreshExpired     = errors.New("refresh has expired")
	ErrSessionInvalid     = errors.New("session is no longer valid")

	// field validation messages
	msgEmailTaken   = "The email has already been taken."
	msgEmailUnknown = "The selected email is invalid."
)

// VerificationRequiredError is returned by Login for accounts whose email is not verified yet.
// A fresh OTP has been issued for Email.
type VerificationRequiredError struct {
	Email   string
	OTPCode string // only set when codes may be exposed
}

func (e *VerificationRequiredError) Error() string {
	return "email verification required"
}

type (
	Repository interface {
		// CreateAccount returns ErrEmailExists when the email is taken.
		CreateAccount(ctx context.Context, acc Account, exec ...core.DBExecutor) (Account, error)
		CreateProfile(ctx context.Context, p Profile, exec ...core.DBExecutor) (Profile, error)
		// GetAccount returns the Account matching the first non-empty GetFilter field, with its Profile.
		GetAccount(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Account, error)
		EmailExists(ctx context.Context, email string, exec ...core.DBExecutor) (bool, error)
		QueryAccounts(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Account, error)
		// UpdateAccount saves the mutable fields of acc: name, password, role, status, verification and last login.
		UpdateAccount(ctx context.Context, acc Account, exec ...core.DBExecutor) (Account, error)
		// BumpSessionVersion atomically increments the session version and returns the new one.
		BumpSessionVersion(ctx context.Context, id string, exec ...core.DBExecutor) (int, error)
	}

	// SessionIssuer issues bearer tokens for verified accounts.
	// Tokens carry Account.SessionVersion; origIssuedAt is set when refreshing.
	SessionIssuer interface {
		IssueToken(acc Account, origIssuedAt ...int64) (string, error)
	}

	Deps struct {
		Conf     *core.Config
		Tx       core.Transactor
		Repo     Repository
		Ledger   *invite.Ledger
		OTP      *otp.Issuer
		MailSvc  core.EmailService
		Files    core.FileStorage
		Audit    core.AuditTrail
		Sessions SessionIssuer
		Logger   core.Logger
		Validate *validator.Validate
	}

	Service struct {
		conf     *core.Config
		tx       core.Transactor
		repo     Repository
		ledger   *invite.Ledger
		otp      *otp.Issuer
		mailSvc  core.EmailService
		files    core.FileStorage
		audit    core.AuditTrail
		sessions SessionIssuer
		logger   core.Logger
		validate *validator.Validate
	}
)

func NewService(deps Deps) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "conf"),
		vala.IsNotNil(deps.Tx, "tx"),
		vala.IsNotNil(deps.Repo, "repo"),
		vala.IsNotNil(deps.Ledger, "ledger"),
		vala.IsNotNil(deps.OTP, "otp"),
		vala.IsNotNil(deps.MailSvc, "mailSvc"),
		vala.IsNotNil(deps.Files, "files"),
		vala.IsNotNil(deps.Audit, "audit"),
		vala.IsNotNil(deps.Sessions, "sessions"),
		vala.IsNotNil(deps.Logger, "logger"),
		vala.IsNotNil(deps.Validate, "validate"),
	).CheckAndPanic()

	return &Service{
		conf:     deps.Conf,
		tx:       deps.Tx,
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		otp:      deps.OTP,
		mailSvc:  deps.MailSvc,
		files:    deps.Files,
		audit:    deps.Audit,
		sessions: deps.Sessions,
		logger:   deps.Logger,
		validate: deps.Validate,
	}
}

func (svc *Service) checkPassword(pwd string, attrs ...string) string {
	return validatePassword(pwd, svc.conf.Auth.PasswordMinLen, svc.conf.Auth.StrictPasswords, attrs...)
}

func (svc *Service) checkUniqueness(ctx context.Context, email string) error {
	exists, err := svc.repo.EmailExists(ctx, email)
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if exists {
		return core.NewFieldValidationError("email", msgEmailTaken)
	}
	return nil
}

// Register creates a pending Account, redeeming its invitation code if any, and sends it an OTP.
// Redemption, account, profile and OTP are committed together.
func (svc *Service) Register(ctx context.Context, na NewAccount) (Registration, error) {
	if err := na.Validate(ctx, svc.validate, svc); err != nil {
		return Registration{}, err
	}

	var avatar *avatarFile
	if na.Image != nil {
		var err error
		if avatar, err = svc.readAvatar(na.Image); err != nil {
			return Registration{}, err
		}
	}

	var (
		acc       Account
		code      string
		imagePath string
	)
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		role, status := core.RolePendingUser, StatusPending
		var codeUsed *string
		if na.InvitationCode != "" {
			red, err := svc.ledger.Redeem(ctx, na.InvitationCode, exec)
			if err != nil {
				return err
			}
			role, status = red.Role, StatusActive
			codeUsed = &red.Code
		}

		if avatar != nil {
			if err := svc.files.Save(ctx, avatar.path, avatar.content()); err != nil {
				return errors.Wrap(err, "storing avatar")
			}
			imagePath = avatar.path
		}

		now := core.Now()
		acc = Account{
			Name:               na.Name,
			Email:              na.Email,
			Role:               role,
			Status:             status,
			InvitationCodeUsed: codeUsed,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := acc.SetPassword(na.Password); err != nil {
			return errors.Wrap(err, "hashing password")
		}

		var err error
		if acc, err = svc.repo.CreateAccount(ctx, acc, exec); err != nil {
			if errors.Cause(err) == ErrEmailExists {
				return core.NewFieldValidationError("email", msgEmailTaken)
			}
			return errors.Wrap(err, "creating account")
		}

		prof, err := svc.repo.CreateProfile(ctx, Profile{
			AccountID: acc.ID,
			Phone:     na.Phone,
			Address:   na.Address,
			Image:     imagePath,
			Type:      role,
			CreatedAt: now,
			UpdatedAt: now,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating profile")
		}
		acc.Profile = &prof

		if code, err = svc.otp.Issue(ctx, acc.Email, exec); err != nil {
			return errors.Wrap(err, "issuing otp")
		}
		return nil
	})
	if err != nil {
		if imagePath != "" {
			if dErr := svc.files.Delete(context.Background(), imagePath); dErr != nil {
				msg := fmt.Sprintf("deleting orphaned avatar %q", imagePath)
				svc.logger.Error(msg, errors.Wrap(dErr, msg))
			}
		}
		return Registration{}, err
	}

	svc.sendOTPMail(ctx, acc, code)
	svc.audit.Log(ctx, acc.Caller(), "account.registered", "account", acc.ID, nil, acc)

	reg := Registration{Account: acc, RequiresVerification: true}
	if svc.conf.ExposeOTP() {
		reg.OTPCode = code
	}
	return reg, nil
}

// VerifyOTP consumes the email's latest challenge, marks the Account's email verified and opens a session.
func (svc *Service) VerifyOTP(ctx context.Context, data VerifyOTP) (Session, error) {
	if err := data.Validate(svc.validate); err != nil {
		return Session{}, err
	}

	var acc Account
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		if err := svc.otp.Verify(ctx, data.Email, data.Code, exec); err != nil {
			return err
		}

		var err error
		if acc, err = svc.repo.GetAccount(ctx, GetFilter{Email: data.Email}, exec); err != nil {
			return err
		}

		now := core.Now()
		if acc.EmailVerifiedAt == nil {
			acc.EmailVerifiedAt = &now
		}
		acc.LastLogin = &now
		acc.UpdatedAt = now
		acc, err = svc.repo.UpdateAccount(ctx, acc, exec)
		return errors.Wrap(err, "updating account")
	})
	if err != nil {
		return Session{}, err
	}

	svc.audit.Log(ctx, acc.Caller(), "account.verified", "account", acc.ID, nil,
		map[string]interface{}{"email_verified_at": acc.EmailVerifiedAt})

	token, err := svc.sessions.IssueToken(acc)
	if err != nil {
		return Session{}, errors.Wrap(err, "issuing token")
	}
	return Session{Token: token, Account: acc}, nil
}

// ResendOTP replaces every challenge of an unverified Account with a fresh one.
// The returned code is empty unless codes may be exposed.
func (svc *Service) ResendOTP(ctx context.Context, data ResendOTP) (string, error) {
	if err := data.Validate(svc.validate); err != nil {
		return "", err
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: data.Email})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return "", core.NewFieldValidationError("email", msgEmailUnknown)
		}
		return "", errors.Wrap(err, "getting account")
	}
	if acc.IsVerified() {
		return "", ErrAlreadyVerified
	}

	code, err := svc.reissueOTP(ctx, acc)
	if err != nil {
		return "", err
	}
	if !svc.conf.ExposeOTP() {
		code = ""
	}
	return code, nil
}

// Login checks credentials. Unverified accounts get a fresh OTP and a *VerificationRequiredError instead of a session.
func (svc *Service) Login(ctx context.Context, creds Credentials) (Session, error) {
	if err := creds.Validate(svc.validate); err != nil {
		return Session{}, err
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{Email: creds.Email})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, errors.Wrap(err, "getting account")
	}
	if err = acc.CheckPassword(creds.Password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	if acc.IsRejected() {
		return Session{}, ErrAccountRejected
	}

	if !acc.IsVerified() {
		code, err := svc.reissueOTP(ctx, acc)
		if err != nil {
			return Session{}, err
		}
		vErr := &VerificationRequiredError{Email: acc.Email}
		if svc.conf.ExposeOTP() {
			vErr.OTPCode = code
		}
		return Session{}, vErr
	}

	now := core.Now()
	acc.LastLogin = &now
	acc.UpdatedAt = now
	if acc, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		return Session{}, errors.Wrap(err, "setting last login")
	}

	token, err := svc.sessions.IssueToken(acc)
	if err != nil {
		return Session{}, errors.Wrap(err, "issuing token")
	}
	return Session{Token: token, Account: acc}, nil
}

// CheckSession returns the Account a token was issued to, as long as that token has not been revoked.
func (svc *Service) CheckSession(ctx context.Context, id string, version int) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Account{}, ErrSessionInvalid
		}
		return Account{}, errors.Wrap(err, "getting account")
	}
	if acc.SessionVersion != version || !acc.IsVerified() || acc.IsRejected() {
		return Account{}, ErrSessionInvalid
	}
	return acc, nil
}

// Logout revokes every token issued to acc so far.
func (svc *Service) Logout(ctx context.Context, acc Account) error {
	if _, err := svc.repo.BumpSessionVersion(ctx, acc.ID); err != nil {
		return errors.Wrap(err, "bumping session version")
	}
	return nil
}

// Refresh revokes every token issued to acc so far and issues a new one,
// until the refresh window opened at origIssuedAt (unix seconds) closes.
func (svc *Service) Refresh(ctx context.Context, acc Account, origIssuedAt int64) (string, error) {
	expTime := time.Unix(origIssuedAt, 0).Add(svc.conf.Server.JWTRefreshExpirationDelta)
	if core.Now().After(expTime) {
		return "", ErrRefreshExpired
	}

	version, err := svc.repo.BumpSessionVersion(ctx, acc.ID)
	if err != nil {
		return "", errors.Wrap(err, "bumping session version")
	}
	acc.SessionVersion = version

	token, err := svc.sessions.IssueToken(acc, origIssuedAt)
	if err != nil {
		return "", errors.Wrap(err, "issuing token")
	}
	return token, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{ID: id})
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (Account, error) {
	return svc.repo.GetAccount(ctx, GetFilter{Email: core.CleanString(email, true /* lower */)})
}

// QueryPending returns accounts awaiting approval, newest first.
func (svc *Service) QueryPending(ctx context.Context) ([]Account, error) {
	return svc.repo.QueryAccounts(ctx, QueryFilter{Status: StatusPending},
		[]core.DBOrdering{{Field: "created_at"}})
}

// ListByRole returns active accounts with role, by name.
func (svc *Service) ListByRole(ctx context.Context, role string) ([]Account, error) {
	return svc.repo.QueryAccounts(ctx, QueryFilter{Role: role, Status: StatusActive},
		[]core.DBOrdering{{Field: "name", Ascending: true}})
}

// Approve activates a pending Account with the given role, or its current one.
func (svc *Service) Approve(ctx context.Context, actor core.Caller, id string, data Approval) (Account, error) {
	data.Role = core.CleanString(data.Role, true /* lower */)
	if data.Role == core.RolePendingUser {
		return Account{}, ErrRoleRequired
	}
	if err := svc.validate.Struct(data); err != nil {
		return Account{}, err
	}

	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if !acc.IsPending() {
		return Account{}, ErrNotPending
	}

	role := data.Role
	if role == "" {
		role = acc.Role
	}
	if !core.IsGrantableRole(role) {
		return Account{}, ErrRoleRequired
	}

	old := map[string]interface{}{"status": acc.Status, "role": acc.Role}
	acc.Status = StatusActive
	acc.Role = role
	acc.UpdatedAt = core.Now()
	if acc, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		return Account{}, errors.Wrap(err, "approving account")
	}

	svc.audit.Log(ctx, actor, "account.approved", "account", acc.ID, old,
		map[string]interface{}{"status": acc.Status, "role": acc.Role})
	return acc, nil
}

// Reject marks a pending Account as rejected. Rejected accounts cannot log in.
func (svc *Service) Reject(ctx context.Context, actor core.Caller, id string) (Account, error) {
	acc, err := svc.repo.GetAccount(ctx, GetFilter{ID: id})
	if err != nil {
		return Account{}, err
	}
	if !acc.IsPending() {
		return Account{}, ErrNotPending
	}

	acc.Status = StatusRejected
	acc.UpdatedAt = core.Now()
	if acc, err = svc.repo.UpdateAccount(ctx, acc); err != nil {
		return Account{}, errors.Wrap(err, "rejecting account")
	}

	svc.audit.Log(ctx, actor, "account.rejected", "account", acc.ID,
		map[string]interface{}{"status": StatusPending}, map[string]interface{}{"status": acc.Status})
	return acc, nil
}

// reissueOTP replaces the Account's challenges with a fresh one and mails it.
func (svc *Service) reissueOTP(ctx context.Context, acc Account) (string, error) {
	var code string
	err := svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		code, err = svc.otp.Resend(ctx, acc.Email, exec)
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "resending otp")
	}
	svc.sendOTPMail(ctx, acc, code)
	return code, nil
}

// sendOTPMail is best-effort: failures and timeouts are logged, never returned.
func (svc *Service) sendOTPMail(ctx context.Context, acc Account, code string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.conf.Mail.SendTimeout)
	defer cancel()

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: acc.Name, Address: acc.Email}},
		Subject:      "Your OTP Verification Code",
		TemplateName: otpEmailTemplate,
		TemplateData: map[string]interface{}{
			"Name":       acc.Name,
			"Code":       code,
			"ValidForMn": int(svc.conf.Auth.OTPTTL / time.Minute),
		},
	}
	if err := svc.mailSvc.SendMessage(sendCtx, msg); err != nil {
		errMsg := "Failed to send OTP email"
		svc.logger.Error(errMsg, errors.Wrap(err, errMsg), acc.Caller())
	}
}
