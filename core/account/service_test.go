package account_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
	emailsvc "github.com/trezcool/shule/services/email"
	storagesvc "github.com/trezcool/shule/services/storage"
	"github.com/trezcool/shule/storage/database/inmem"
)

var (
	pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	admin   = core.Caller{ID: "admin-id", Name: "Admin", Email: "admin@test.cd"}
)

type fakeSessions struct {
	mu     sync.Mutex
	issued int
}

func (s *fakeSessions) IssueToken(acc account.Account, origIssuedAt ...int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return fmt.Sprintf("token-%s-v%d", acc.ID, acc.SessionVersion), nil
}

type testEnv struct {
	conf      *core.Config
	svc       *account.Service
	repo      account.Repository
	invites   invite.Repository
	otps      otp.Repository
	audits    audit.Repository
	mail      *emailsvc.ConsoleServiceMock
	mediaRoot string
	sessions  *fakeSessions
}

func setup(t *testing.T) *testEnv {
	return setupWithMail(t, nil)
}

// setupWithMail uses mailSvc instead of the recording console mock when it is not nil.
func setupWithMail(t *testing.T, mailSvc core.EmailService) *testEnv {
	genCode := otp.GenerateCodeFunc
	t.Cleanup(func() {
		core.NowFunc = time.Now
		otp.GenerateCodeFunc = genCode
	})

	conf := core.NewTestConfig()
	conf.SetExposeOTP(true)
	db := inmemdb.Open()
	validate, _ := core.NewValidator()
	mediaRoot := t.TempDir()
	files, err := storagesvc.NewLocalStorage(mediaRoot)
	require.NoError(t, err)

	env := &testEnv{
		conf:      conf,
		repo:      inmemdb.NewAccountRepository(db),
		invites:   inmemdb.NewInviteRepository(db),
		otps:      inmemdb.NewOTPRepository(db),
		audits:    inmemdb.NewAuditRepository(db),
		mail:      emailsvc.NewConsoleServiceMock(conf),
		mediaRoot: mediaRoot,
		sessions:  &fakeSessions{},
	}
	if mailSvc == nil {
		mailSvc = env.mail
	}
	auditSvc := audit.NewService(env.audits, &core.NopLogger{})
	env.svc = account.NewService(account.Deps{
		Conf:     conf,
		Tx:       db,
		Repo:     env.repo,
		Ledger:   invite.NewLedger(env.invites, auditSvc),
		OTP:      otp.NewIssuer(env.otps, conf.Auth.OTPTTL),
		MailSvc:  mailSvc,
		Files:    files,
		Audit:    auditSvc,
		Sessions: env.sessions,
		Logger:   &core.NopLogger{},
		Validate: validate,
	})
	return env
}

// setClock freezes core.Now at now; move it through the returned pointer.
func setClock(now time.Time) *time.Time {
	clk := now
	core.NowFunc = func() time.Time { return clk }
	return &clk
}

func intPtr(i int) *int { return &i }

func (env *testEnv) createInvite(t *testing.T, c invite.Code) {
	now := core.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := env.invites.CreateCode(context.Background(), c)
	require.NoError(t, err)
}

func (env *testEnv) countAccounts(t *testing.T) int {
	accs, err := env.repo.QueryAccounts(context.Background(), account.QueryFilter{}, nil)
	require.NoError(t, err)
	return len(accs)
}

func (env *testEnv) usedCount(t *testing.T, code string) int {
	c, err := env.invites.GetCode(context.Background(), code)
	require.NoError(t, err)
	return c.UsedCount
}

func (env *testEnv) mediaFiles(t *testing.T) []string {
	matches, err := filepath.Glob(filepath.Join(env.mediaRoot, "profiles", "*"))
	require.NoError(t, err)
	return matches
}

func newAccount(email string) account.NewAccount {
	return account.NewAccount{
		Name:            "Awe Some",
		Email:           email,
		Password:        "secret",
		PasswordConfirm: "secret",
		Phone:           "+243 81 000 0000",
		Address:         "Kinshasa",
	}
}

func (env *testEnv) register(t *testing.T, na account.NewAccount) account.Registration {
	reg, err := env.svc.Register(context.Background(), na)
	require.NoError(t, err)
	return reg
}

func (env *testEnv) registerVerified(t *testing.T, na account.NewAccount) account.Account {
	reg := env.register(t, na)
	sess, err := env.svc.VerifyOTP(context.Background(), account.VerifyOTP{Email: na.Email, Code: reg.OTPCode})
	require.NoError(t, err)
	return sess.Account
}

func TestService_Register_withoutInvite(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))

	na := newAccount(" Awe@Test.CD ")
	na.Image = &core.Upload{Filename: "me.png", Size: int64(len(pngData)), Content: bytes.NewReader(pngData)}
	reg := env.register(t, na)

	acc := reg.Account
	assert.True(t, reg.RequiresVerification)
	assert.NotEmpty(t, acc.ID)
	assert.Equal(t, "awe@test.cd", acc.Email)
	assert.Equal(t, core.RolePendingUser, acc.Role)
	assert.Equal(t, account.StatusPending, acc.Status)
	assert.Nil(t, acc.EmailVerifiedAt)
	assert.Nil(t, acc.InvitationCodeUsed)
	assert.NoError(t, acc.CheckPassword("secret"))

	require.NotNil(t, acc.Profile)
	assert.Equal(t, acc.ID, acc.Profile.AccountID)
	assert.Equal(t, "Kinshasa", acc.Profile.Address)
	assert.Equal(t, core.RolePendingUser, acc.Profile.Type)
	assert.Regexp(t, `^profiles/[0-9a-f-]{36}\.png$`, acc.Profile.Image)
	stored, err := os.ReadFile(filepath.Join(env.mediaRoot, filepath.FromSlash(acc.Profile.Image)))
	require.NoError(t, err)
	assert.Equal(t, pngData, stored)

	// a 6-digit challenge valid for 5 minutes
	assert.Regexp(t, `^[0-9]{6}$`, reg.OTPCode)
	ch, err := env.otps.GetLatestUnverified(ctx, "awe@test.cd")
	require.NoError(t, err)
	assert.Equal(t, clk.Add(5*time.Minute), ch.ExpiresAt)
	assert.True(t, ch.Matches(reg.OTPCode))

	sent := env.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "awe@test.cd", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, reg.OTPCode)

	entries, err := env.audits.QueryEntries(ctx, audit.QueryFilter{UserID: acc.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "account.registered", entries[0].Action)
	assert.NotContains(t, string(entries[0].NewValues), "password")
}

func TestService_Register_withInvite(t *testing.T) {
	env := setup(t)
	env.createInvite(t, invite.Code{Code: "TEACHER2026", Role: core.RoleTeacher, IsActive: true, UsageLimit: intPtr(100)})

	na := newAccount("teacher@test.cd")
	na.InvitationCode = "TEACHER2026"
	reg := env.register(t, na)

	acc := reg.Account
	assert.Equal(t, core.RoleTeacher, acc.Role)
	assert.Equal(t, account.StatusActive, acc.Status)
	assert.Nil(t, acc.EmailVerifiedAt) // must still verify by OTP
	require.NotNil(t, acc.InvitationCodeUsed)
	assert.Equal(t, "TEACHER2026", *acc.InvitationCodeUsed)
	assert.Equal(t, core.RoleTeacher, acc.Profile.Type)
	assert.Equal(t, 1, env.usedCount(t, "TEACHER2026"))

	// deactivating the code later does not touch the account
	_, err := env.invites.DeactivateCode(context.Background(), "TEACHER2026", core.Now())
	require.NoError(t, err)
	got, err := env.svc.GetByEmail(context.Background(), "teacher@test.cd")
	require.NoError(t, err)
	assert.Equal(t, core.RoleTeacher, got.Role)
	assert.Equal(t, "TEACHER2026", *got.InvitationCodeUsed)
}

func TestService_Register_badInvite(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name    string
		code    *invite.Code
		wantErr error
	}{
		{name: "unknown", wantErr: invite.ErrNotFound},
		{name: "inactive", code: &invite.Code{Code: "CODE", Role: core.RoleStudent}, wantErr: invite.ErrInactive},
		{name: "expired", code: &invite.Code{Code: "CODE", Role: core.RoleStudent, IsActive: true, ExpiresAt: &past}, wantErr: invite.ErrExpired},
		{
			name: "limit reached", code: &invite.Code{Code: "CODE", Role: core.RoleStudent, IsActive: true, UsageLimit: intPtr(2), UsedCount: 2},
			wantErr: invite.ErrLimitReached,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setup(t)
			if tt.code != nil {
				env.createInvite(t, *tt.code)
			}

			na := newAccount("awe@test.cd")
			na.InvitationCode = "CODE"
			na.Image = &core.Upload{Size: int64(len(pngData)), Content: bytes.NewReader(pngData)}
			_, err := env.svc.Register(context.Background(), na)
			assert.Equal(t, tt.wantErr, err)
			assert.True(t, invite.IsRedeemError(err))

			assert.Equal(t, 0, env.countAccounts(t))
			assert.Empty(t, env.mediaFiles(t))
			assert.Empty(t, env.mail.SentMessages())
			if tt.code != nil {
				assert.Equal(t, tt.code.UsedCount, env.usedCount(t, "CODE"))
			}
		})
	}
}

func TestService_Register_rollback(t *testing.T) {
	env := setup(t)
	env.createInvite(t, invite.Code{Code: "STUDENT2026", Role: core.RoleStudent, IsActive: true})
	otp.GenerateCodeFunc = func() (string, error) { return "", errors.New("entropy exhausted") }

	na := newAccount("awe@test.cd")
	na.InvitationCode = "STUDENT2026"
	na.Image = &core.Upload{Size: int64(len(pngData)), Content: bytes.NewReader(pngData)}
	_, err := env.svc.Register(context.Background(), na)
	require.Error(t, err)

	assert.Equal(t, 0, env.countAccounts(t))
	assert.Equal(t, 0, env.usedCount(t, "STUDENT2026"))
	assert.Empty(t, env.mediaFiles(t))
	assert.Empty(t, env.mail.SentMessages())
}

func TestService_Register_mailFailure(t *testing.T) {
	env := setup(t)
	env.mail.Err = errors.New("smtp down")

	reg := env.register(t, newAccount("awe@test.cd"))
	assert.NotEmpty(t, reg.Account.ID)
	assert.Equal(t, 1, env.countAccounts(t))
}

// hangingMail blocks every send until its context is done.
type hangingMail struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (m *hangingMail) SendMessage(ctx context.Context, _ *core.EmailMessage) error {
	<-ctx.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.errs = append(m.errs, ctx.Err())
	return ctx.Err()
}

func TestService_Register_mailTimeout(t *testing.T) {
	mailSvc := &hangingMail{}
	env := setupWithMail(t, mailSvc)
	env.conf.Mail.SendTimeout = 50 * time.Millisecond

	start := time.Now()
	reg, err := env.svc.Register(context.Background(), newAccount("slow@test.cd"))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, reg.RequiresVerification)

	acc, err := env.repo.GetAccount(context.Background(), account.GetFilter{Email: "slow@test.cd"})
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, acc.ID)

	mailSvc.mu.Lock()
	defer mailSvc.mu.Unlock()
	assert.Equal(t, 1, mailSvc.calls)
	assert.Equal(t, []error{context.DeadlineExceeded}, mailSvc.errs)
}

func TestService_Register_exposeOTP(t *testing.T) {
	env := setup(t)
	env.conf.SetExposeOTP(false)
	reg := env.register(t, newAccount("awe@test.cd"))
	assert.Empty(t, reg.OTPCode)

	env.conf.SetExposeOTP(true)
	env.conf.Env = "PROD"
	reg = env.register(t, newAccount("awe2@test.cd"))
	assert.Empty(t, reg.OTPCode)
}

func TestService_Register_validation(t *testing.T) {
	env := setup(t)
	env.createInvite(t, invite.Code{Code: "GUEST_PASS", Role: core.RoleStudent, IsActive: true})
	env.register(t, newAccount("taken@test.cd"))

	gif := []byte("GIF89a" + string(bytes.Repeat([]byte{0}, 32)))
	big := append(append([]byte{}, pngData...), bytes.Repeat([]byte{0}, int(env.conf.Storage.MaxAvatarSize))...)

	tests := []struct {
		name      string
		mutate    func(na *account.NewAccount)
		wantField string
		wantMsg   string
	}{
		{name: "missing name", mutate: func(na *account.NewAccount) { na.Name = "  " }, wantField: "name"},
		{name: "bad email", mutate: func(na *account.NewAccount) { na.Email = "awe" }, wantField: "email"},
		{name: "confirmation mismatch", mutate: func(na *account.NewAccount) { na.PasswordConfirm = "secreT" }, wantField: "password_confirmation"},
		{
			name: "short password", mutate: func(na *account.NewAccount) { na.Password, na.PasswordConfirm = "abc", "abc" },
			wantField: "password", wantMsg: "The password must be at least 6 characters.",
		},
		{name: "email taken", mutate: func(na *account.NewAccount) { na.Email = "TAKEN@test.cd" }, wantField: "email", wantMsg: "The email has already been taken."},
		{
			name: "not an image", mutate: func(na *account.NewAccount) {
				na.Image = &core.Upload{Size: 5, Content: bytes.NewReader([]byte("hello"))}
			},
			wantField: "image", wantMsg: "The image must be a file of type: jpeg, png, jpg, gif.",
		},
		{
			name: "image too large", mutate: func(na *account.NewAccount) {
				na.Image = &core.Upload{Size: int64(len(big)), Content: bytes.NewReader(big)}
			},
			wantField: "image", wantMsg: "The image may not be greater than 2048 kilobytes.",
		},
		{
			name: "lying size", mutate: func(na *account.NewAccount) {
				na.Image = &core.Upload{Size: 1, Content: bytes.NewReader(big)}
			},
			wantField: "image",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			na := newAccount("new@test.cd")
			na.InvitationCode = "GUEST_PASS"
			tt.mutate(&na)
			_, err := env.svc.Register(context.Background(), na)
			require.Error(t, err)

			var (
				vErr  *core.ValidationError
				vErrs validator.ValidationErrors
			)
			switch {
			case errors.As(err, &vErr):
				assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
				if tt.wantMsg != "" {
					assert.Equal(t, tt.wantMsg, vErr.Fields[0].Error)
				}
			case errors.As(err, &vErrs):
				assert.Equal(t, tt.wantField, vErrs[0].Field())
			default:
				t.Fatalf("unexpected error: %v", err)
			}

			assert.Equal(t, 1, env.countAccounts(t))
			assert.Equal(t, 0, env.usedCount(t, "GUEST_PASS"))
		})
	}

	t.Run("gif is fine", func(t *testing.T) {
		na := newAccount("gif@test.cd")
		na.Image = &core.Upload{Size: int64(len(gif)), Content: bytes.NewReader(gif)}
		reg := env.register(t, na)
		assert.Regexp(t, `\.gif$`, reg.Account.Profile.Image)
	})
}

func TestService_VerifyOTP(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	reg := env.register(t, newAccount("awe@test.cd"))

	t.Run("wrong code", func(t *testing.T) {
		wrong := "000000"
		if reg.OTPCode == wrong {
			wrong = "111111"
		}
		_, err := env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: wrong})
		assert.Equal(t, otp.ErrInvalidCode, err)
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: "12a456"})
		var vErrs validator.ValidationErrors
		require.True(t, errors.As(err, &vErrs))
		assert.Equal(t, "otp", vErrs[0].Field())
	})

	t.Run("success", func(t *testing.T) {
		*clk = clk.Add(5 * time.Minute) // still valid at the exact expiry
		sess, err := env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: " AWE@test.cd", Code: reg.OTPCode})
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("token-%s-v0", reg.Account.ID), sess.Token)
		require.NotNil(t, sess.Account.EmailVerifiedAt)
		assert.Equal(t, *clk, *sess.Account.EmailVerifiedAt)
		assert.Equal(t, *clk, *sess.Account.LastLogin)
		assert.Equal(t, account.StatusPending, sess.Account.Status) // approval is a separate step
		assert.Equal(t, 1, env.sessions.issued)
	})

	t.Run("code already used", func(t *testing.T) {
		_, err := env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: reg.OTPCode})
		assert.Equal(t, otp.ErrNotFound, err)
		assert.Equal(t, 1, env.sessions.issued)
	})
}

func TestService_VerifyOTP_expired(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	reg := env.register(t, newAccount("awe@test.cd"))

	*clk = clk.Add(5*time.Minute + time.Second)
	_, err := env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: reg.OTPCode})
	assert.Equal(t, otp.ErrExpired, err)

	acc, err := env.svc.GetByID(ctx, reg.Account.ID)
	require.NoError(t, err)
	assert.Nil(t, acc.EmailVerifiedAt)
	assert.Equal(t, 0, env.sessions.issued)
}

func TestService_ResendOTP(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	codes := []string{"111111", "222222"}
	otp.GenerateCodeFunc = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	env.register(t, newAccount("awe@test.cd"))

	code, err := env.svc.ResendOTP(ctx, account.ResendOTP{Email: "awe@test.cd"})
	require.NoError(t, err)
	assert.Equal(t, "222222", code)
	assert.Len(t, env.mail.SentMessages(), 2)

	// the first code is gone
	_, err = env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: "111111"})
	assert.Equal(t, otp.ErrInvalidCode, err)

	_, err = env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "awe@test.cd", Code: "222222"})
	require.NoError(t, err)

	_, err = env.svc.ResendOTP(ctx, account.ResendOTP{Email: "awe@test.cd"})
	assert.Equal(t, account.ErrAlreadyVerified, err)

	_, err = env.svc.ResendOTP(ctx, account.ResendOTP{Email: "nobody@test.cd"})
	var vErr *core.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "The selected email is invalid.", vErr.Fields[0].Error)
}

func TestService_ResendOTP_hidden(t *testing.T) {
	env := setup(t)
	env.conf.SetExposeOTP(false)
	env.register(t, newAccount("awe@test.cd"))

	code, err := env.svc.ResendOTP(context.Background(), account.ResendOTP{Email: "awe@test.cd"})
	require.NoError(t, err)
	assert.Empty(t, code)
	assert.Len(t, env.mail.SentMessages(), 2)
}

func TestService_Login(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))

	unverified := env.register(t, newAccount("unverified@test.cd"))
	verified := env.registerVerified(t, newAccount("verified@test.cd"))
	rejected := env.register(t, newAccount("rejected@test.cd"))
	_, err := env.svc.Reject(ctx, admin, rejected.Account.ID)
	require.NoError(t, err)
	issued := env.sessions.issued

	t.Run("unknown email", func(t *testing.T) {
		_, err := env.svc.Login(ctx, account.Credentials{Email: "nobody@test.cd", Password: "secret"})
		assert.Equal(t, account.ErrInvalidCredentials, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.svc.Login(ctx, account.Credentials{Email: "verified@test.cd", Password: "Secret"})
		assert.Equal(t, account.ErrInvalidCredentials, err)
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := env.svc.Login(ctx, account.Credentials{Email: "rejected@test.cd", Password: "secret"})
		assert.Equal(t, account.ErrAccountRejected, err)
	})

	t.Run("unverified", func(t *testing.T) {
		sent := len(env.mail.SentMessages())
		_, err := env.svc.Login(ctx, account.Credentials{Email: "Unverified@test.cd", Password: "secret"})

		var vErr *account.VerificationRequiredError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "unverified@test.cd", vErr.Email)
		assert.Regexp(t, `^[0-9]{6}$`, vErr.OTPCode)
		assert.Len(t, env.mail.SentMessages(), sent+1)

		// a fresh challenge replaced the registration one
		ch, err := env.otps.GetLatestUnverified(ctx, "unverified@test.cd")
		require.NoError(t, err)
		assert.True(t, ch.Matches(vErr.OTPCode))
		if vErr.OTPCode != unverified.OTPCode {
			_, err = env.svc.VerifyOTP(ctx, account.VerifyOTP{Email: "unverified@test.cd", Code: unverified.OTPCode})
			assert.Equal(t, otp.ErrInvalidCode, err)
		}
	})

	t.Run("verified", func(t *testing.T) {
		*clk = clk.Add(time.Hour)
		sess, err := env.svc.Login(ctx, account.Credentials{Email: "verified@test.cd", Password: "secret"})
		require.NoError(t, err)
		assert.Equal(t, verified.ID, sess.Account.ID)
		assert.NotEmpty(t, sess.Token)
		assert.Equal(t, *clk, *sess.Account.LastLogin)
	})

	assert.Equal(t, issued+1, env.sessions.issued)
}

func TestService_Sessions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	acc := env.registerVerified(t, newAccount("awe@test.cd"))
	origIat := clk.Unix()

	got, err := env.svc.CheckSession(ctx, acc.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = env.svc.CheckSession(ctx, "unknown", 0)
	assert.Equal(t, account.ErrSessionInvalid, err)

	// refresh revokes the previous token
	*clk = clk.Add(time.Hour)
	token, err := env.svc.Refresh(ctx, got, origIat)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("token-%s-v1", acc.ID), token)
	_, err = env.svc.CheckSession(ctx, acc.ID, 0)
	assert.Equal(t, account.ErrSessionInvalid, err)
	got, err = env.svc.CheckSession(ctx, acc.ID, 1)
	require.NoError(t, err)

	// past the refresh window
	*clk = time.Unix(origIat, 0).Add(env.conf.Server.JWTRefreshExpirationDelta + time.Second)
	_, err = env.svc.Refresh(ctx, got, origIat)
	assert.Equal(t, account.ErrRefreshExpired, err)

	require.NoError(t, env.svc.Logout(ctx, got))
	_, err = env.svc.CheckSession(ctx, acc.ID, 1)
	assert.Equal(t, account.ErrSessionInvalid, err)
}

func TestService_CheckSession_unverified(t *testing.T) {
	env := setup(t)
	reg := env.register(t, newAccount("awe@test.cd"))

	_, err := env.svc.CheckSession(context.Background(), reg.Account.ID, 0)
	assert.Equal(t, account.ErrSessionInvalid, err)
}

func TestService_Approve(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	pending := env.register(t, newAccount("pending@test.cd")).Account

	_, err := env.svc.Approve(ctx, admin, pending.ID, account.Approval{})
	assert.Equal(t, account.ErrRoleRequired, err)
	_, err = env.svc.Approve(ctx, admin, pending.ID, account.Approval{Role: "pending_user"})
	assert.Equal(t, account.ErrRoleRequired, err)
	_, err = env.svc.Approve(ctx, admin, pending.ID, account.Approval{Role: "janitor"})
	assert.Error(t, err)
	_, err = env.svc.Approve(ctx, admin, "unknown", account.Approval{Role: "teacher"})
	assert.Equal(t, account.ErrNotFound, err)

	acc, err := env.svc.Approve(ctx, admin, pending.ID, account.Approval{Role: " Teacher "})
	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, acc.Status)
	assert.Equal(t, core.RoleTeacher, acc.Role)

	_, err = env.svc.Approve(ctx, admin, pending.ID, account.Approval{Role: "student"})
	assert.Equal(t, account.ErrNotPending, err)
	_, err = env.svc.Reject(ctx, admin, pending.ID)
	assert.Equal(t, account.ErrNotPending, err)

	entries, err := env.audits.QueryEntries(ctx, audit.QueryFilter{UserID: admin.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "account.approved", entries[0].Action)
	assert.JSONEq(t, `{"status":"pending","role":"pending_user"}`, string(entries[0].OldValues))
	assert.JSONEq(t, `{"status":"active","role":"teacher"}`, string(entries[0].NewValues))
}

func TestService_Reject(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	pending := env.register(t, newAccount("pending@test.cd")).Account

	acc, err := env.svc.Reject(ctx, admin, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, account.StatusRejected, acc.Status)

	list, err := env.svc.QueryPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_Listings(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	clk := setClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	env.createInvite(t, invite.Code{Code: "TEACHER2026", Role: core.RoleTeacher, IsActive: true})

	for _, name := range []string{"Zola", "amani", "Bisimwa"} {
		*clk = clk.Add(time.Minute)
		na := newAccount(name + "@test.cd")
		na.Name = name
		env.register(t, na)

		*clk = clk.Add(time.Minute)
		na = newAccount("t." + name + "@test.cd")
		na.Name = "T. " + name
		na.InvitationCode = "TEACHER2026"
		env.register(t, na)
	}

	pending, err := env.svc.QueryPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"bisimwa@test.cd", "amani@test.cd", "zola@test.cd"},
		[]string{pending[0].Email, pending[1].Email, pending[2].Email})

	teachers, err := env.svc.ListByRole(ctx, core.RoleTeacher)
	require.NoError(t, err)
	require.Len(t, teachers, 3)
	assert.Equal(t, []string{"T. amani", "T. Bisimwa", "T. Zola"},
		[]string{teachers[0].Name, teachers[1].Name, teachers[2].Name})

	students, err := env.svc.ListByRole(ctx, core.RoleStudent)
	require.NoError(t, err)
	assert.Empty(t, students)
}
