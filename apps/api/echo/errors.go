package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
)

const validationErrorMsg = "Validation error"

const verificationRequiredMsg = "Please verify your email. OTP sent to your email."

type domainError struct {
	code    int
	message string
}

// lookupDomainError returns the HTTP status and client message of known domain errors.
func lookupDomainError(err error) (domainError, bool) {
	switch err {
	case invite.ErrNotFound:
		return domainError{http.StatusBadRequest, "Invalid invitation code"}, true
	case invite.ErrInactive:
		return domainError{http.StatusBadRequest, "Invitation code is inactive"}, true
	case invite.ErrExpired:
		return domainError{http.StatusBadRequest, "Invitation code expired"}, true
	case invite.ErrLimitReached:
		return domainError{http.StatusBadRequest, "Invitation code usage limit reached"}, true
	case otp.ErrExpired:
		return domainError{http.StatusBadRequest, "OTP has expired. Please request a new one."}, true
	case otp.ErrInvalidCode:
		return domainError{http.StatusBadRequest, "Invalid OTP code"}, true
	case account.ErrAlreadyVerified:
		return domainError{http.StatusBadRequest, "Email already verified"}, true
	case account.ErrNotPending:
		return domainError{http.StatusBadRequest, "User is not pending"}, true
	case account.ErrRoleRequired:
		return domainError{http.StatusBadRequest, "Please assign a role (student/teacher)"}, true
	case otp.ErrNotFound:
		return domainError{http.StatusNotFound, "No OTP found for this email"}, true
	case account.ErrNotFound:
		return domainError{http.StatusNotFound, "User not found"}, true
	case account.ErrInvalidCredentials:
		return domainError{http.StatusUnauthorized, "Invalid credentials"}, true
	case account.ErrSessionInvalid:
		return domainError{http.StatusUnauthorized, "session is no longer valid"}, true
	case account.ErrAccountRejected:
		return domainError{http.StatusForbidden, "account rejected"}, true
	case account.ErrRefreshExpired:
		return domainError{http.StatusForbidden, "refresh has expired"}, true
	}
	return domainError{}, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		body := echo.Map{"error": true}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				body["message"] = errUnauthorized.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			body["message"] = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusUnprocessableEntity
			body["message"] = validationErrorMsg
			body["errors"] = core.TranslateValidationErrors(origErr, translator)
		case *core.ValidationError:
			code = http.StatusUnprocessableEntity
			body["message"] = validationErrorMsg
			fldErrs := make(map[string][]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = append(fldErrs[fErr.Field], fErr.Error)
			}
			if len(fldErrs) == 0 {
				body["message"] = origErr.Error()
			}
			body["errors"] = fldErrs
		case *account.VerificationRequiredError:
			code = http.StatusForbidden
			body = echo.Map{
				"error":                 false,
				"message":               verificationRequiredMsg,
				"requires_verification": true,
				"email":                 origErr.Email,
			}
			if origErr.OTPCode != "" {
				body["otp_code"] = origErr.OTPCode
			}
		default:
			if dErr, ok := lookupDomainError(origErr); ok {
				code = dErr.code
				body["message"] = dErr.message
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			body["message"] = msg
			if ctx.Echo().Debug {
				body["details"] = err.Error()
			}

			var caller core.Caller
			if acc, aErr := contextAccount(ctx); aErr == nil {
				caller = acc.Caller()
			}
			logger.Error(msg, errors.Wrap(err, msg), caller)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, body)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
