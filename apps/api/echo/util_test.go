package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/services/ratelimit"
	storagesvc "github.com/trezcool/shule/services/storage"
	"github.com/trezcool/shule/storage/database/inmem"
	"github.com/trezcool/shule/tests"
)

type testApp struct {
	conf     *core.Config
	server   *Server
	sessions *JWTSessions
	accounts account.Repository
	invites  invite.Repository
	audits   audit.Repository
	mail     *emailsvc.ConsoleServiceMock
}

type setupOpts struct {
	redis *miniredis.Miniredis
}

func setup(t *testing.T, opts ...setupOpts) *testApp {
	var o setupOpts
	if len(opts) > 0 {
		o = opts[0]
	}

	conf := core.NewTestConfig()
	conf.SetExposeOTP(true)
	conf.Storage.MediaRoot = t.TempDir()
	validate, translator := core.NewValidator()

	db := inmemdb.Open()
	app := &testApp{
		conf:     conf,
		sessions: NewJWTSessions(conf),
		accounts: inmemdb.NewAccountRepository(db),
		invites:  inmemdb.NewInviteRepository(db),
		audits:   inmemdb.NewAuditRepository(db),
		mail:     emailsvc.NewConsoleServiceMock(conf),
	}
	files, err := storagesvc.NewLocalStorage(conf.Storage.MediaRoot)
	require.NoError(t, err)

	auditSvc := audit.NewService(app.audits, &core.NopLogger{})
	ledger := invite.NewLedger(app.invites, auditSvc)
	accSvc := account.NewService(account.Deps{
		Conf:     conf,
		Tx:       db,
		Repo:     app.accounts,
		Ledger:   ledger,
		OTP:      otp.NewIssuer(inmemdb.NewOTPRepository(db), conf.Auth.OTPTTL),
		MailSvc:  app.mail,
		Files:    files,
		Audit:    auditSvc,
		Sessions: app.sessions,
		Logger:   &core.NopLogger{},
		Validate: validate,
	})

	var limiter *ratelimit.Limiter
	if o.redis != nil {
		client, err := ratelimit.NewClient(context.Background(), "redis://"+o.redis.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		limiter = ratelimit.NewLimiter(client, conf.Redis.OTPAttempts, conf.Redis.OTPWindow)
	}

	app.server = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     &core.NopLogger{},
		AccountSvc: accSvc,
		Ledger:     ledger,
		AuditSvc:   auditSvc,
		Sessions:   app.sessions,
		Limiter:    limiter,
		Validate:   validate,
		Translator: translator,
	})
	return app
}

func (app *testApp) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	app.server.ServeHTTP(rec, req)
}

func (app *testApp) createAccount(t *testing.T, name, email, role, status string, verified bool) account.Account {
	return testutil.CreateAccount(t, app.accounts, name, email, "secret", role, status, verified)
}

func (app *testApp) createInvite(t *testing.T, code, role string, usageLimit *int) invite.Code {
	return testutil.CreateInvite(t, app.invites, code, role, usageLimit, nil)
}

func (app *testApp) getToken(t *testing.T, acc account.Account, origIssuedAt ...int64) string {
	token, err := app.sessions.IssueToken(acc, origIssuedAt...)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func newMultipartRequest(t *testing.T, path string, fields map[string]string, image []byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if image != nil {
		fw, err := w.CreateFormFile("image", "avatar.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, httptest.NewRecorder()
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func unmarshalBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshalBody() failed: %v; body %s", err, rec.Body.String())
	}
	return body
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
			app.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func intPtr(i int) *int { return &i }
