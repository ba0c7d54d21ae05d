package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/account"
)

type authApi struct {
	svc      *account.Service
	sessions *JWTSessions
}

func registerAuthAPI(g *echo.Group, auth, throttle echo.MiddlewareFunc, deps ServerDeps) {
	api := authApi{svc: deps.AccountSvc, sessions: deps.Sessions}

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/register", api.register)
	ag.POST("/verify-otp", api.verifyOTP, throttle)
	ag.POST("/resend-otp", api.resendOTP, throttle)
	ag.POST("/login", api.login)

	// authed endpoints
	ag.GET("/me", api.me, auth)
	ag.POST("/logout", api.logout, auth)
	ag.POST("/refresh", api.refresh, auth)
}

// Handlers

func (api *authApi) register(ctx echo.Context) error {
	data, closer, err := bindNewAccount(ctx)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	reg, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}

	resp := echo.Map{
		"error":                 false,
		"message":               "Registration successful. Please check your email for OTP verification.",
		"user":                  reg.Account,
		"requires_verification": reg.RequiresVerification,
	}
	if reg.OTPCode != "" {
		resp["otp_code"] = reg.OTPCode
	}
	return ctx.JSON(http.StatusCreated, resp)
}

func (api *authApi) verifyOTP(ctx echo.Context) error {
	var data account.VerifyOTP
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyOTP")
	}

	sess, err := api.svc.VerifyOTP(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "verifying otp")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"error":        false,
		"message":      "Email verified successfully",
		"access_token": sess.Token,
		"user":         sess.Account,
	})
}

func (api *authApi) resendOTP(ctx echo.Context) error {
	var data account.ResendOTP
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResendOTP")
	}

	code, err := api.svc.ResendOTP(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "resending otp")
	}
	resp := echo.Map{"error": false, "message": "OTP sent successfully. Please check your email."}
	if code != "" {
		resp["otp_code"] = code
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *authApi) login(ctx echo.Context) error {
	var data account.Credentials
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Credentials")
	}

	sess, err := api.svc.Login(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"error":        false,
		"message":      "Login successful",
		"access_token": sess.Token,
		"user":         sess.Account,
	})
}

func (api *authApi) me(ctx echo.Context) error {
	acc, err := contextAccount(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"error": false, "user": acc})
}

func (api *authApi) logout(ctx echo.Context) error {
	acc, err := contextAccount(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Logout(ctx.Request().Context(), acc); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"error": false, "message": "Logout successful"})
}

func (api *authApi) refresh(ctx echo.Context) error {
	acc, err := contextAccount(ctx)
	if err != nil {
		return err
	}
	claims, err := api.sessions.contextClaims(ctx)
	if err != nil {
		return err
	}

	token, err := api.svc.Refresh(ctx.Request().Context(), acc, claims.OrigIssuedAt)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, echo.Map{
		"error":   false,
		"token":   token,
		"message": "Token refreshed successfully",
	})
}
