package echoapi

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

const contextAccountKey = "account"

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "Unauthenticated.")
	errAdminRequired = echo.NewHTTPError(http.StatusForbidden, "Unauthorized. Admin access required.")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt   int64  `json:"oriat,omitempty"`
	SessionVersion int    `json:"ver"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
}

// JWTSessions issues and checks HS256 bearer tokens. It implements account.SessionIssuer.
type JWTSessions struct {
	conf      *core.Config
	jwtConfig middleware.JWTConfig
}

var _ account.SessionIssuer = (*JWTSessions)(nil)

func NewJWTSessions(conf *core.Config) *JWTSessions {
	return &JWTSessions{
		conf: conf,
		jwtConfig: middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    "userToken",
			Claims:        new(Claims),
		},
	}
}

func (js *JWTSessions) claims(acc account.Account, origIat ...int64) *Claims {
	now := time.Now()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    js.conf.AppName,
			Subject:   acc.ID,
			ExpiresAt: now.Add(js.conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt:   oriat,
		SessionVersion: acc.SessionVersion,
		Email:          acc.Email,
		Role:           acc.Role,
	}
}

// IssueToken generates a signed JWT carrying the account's current session version.
func (js *JWTSessions) IssueToken(acc account.Account, origIssuedAt ...int64) (string, error) {
	method := jwt.GetSigningMethod(js.jwtConfig.SigningMethod)
	token := jwt.NewWithClaims(method, js.claims(acc, origIssuedAt...))

	ss, err := token.SignedString(js.jwtConfig.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (js *JWTSessions) contextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(js.jwtConfig.ContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

// authMiddleware checks the bearer token, then loads its account as long as the token was not revoked.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	jwtMw := middleware.JWTWithConfig(s.deps.Sessions.jwtConfig)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwtMw(func(ctx echo.Context) error {
			claims, err := s.deps.Sessions.contextClaims(ctx)
			if err != nil {
				return err
			}
			acc, err := s.deps.AccountSvc.CheckSession(ctx.Request().Context(), claims.Subject, claims.SessionVersion)
			if err != nil {
				return errors.Wrap(err, "checking session")
			}
			ctx.Set(contextAccountKey, acc)
			return next(ctx)
		})
	}
}

func contextAccount(ctx echo.Context) (account.Account, error) {
	if acc, ok := ctx.Get(contextAccountKey).(account.Account); ok {
		return acc, nil
	}
	return account.Account{}, errUnauthorized
}

func adminMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			acc, err := contextAccount(ctx)
			if err != nil {
				return err
			}
			if !acc.IsAdmin() {
				return errAdminRequired
			}
			return next(ctx)
		}
	}
}
