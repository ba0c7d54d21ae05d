package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/services/ratelimit"
)

// requestInfoMiddleware makes the client's IP and user agent available to the audit trail.
func requestInfoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			ri := audit.RequestInfo{IPAddress: ctx.RealIP(), UserAgent: req.UserAgent()}
			ctx.SetRequest(req.WithContext(audit.WithRequestInfo(req.Context(), ri)))
			return next(ctx)
		}
	}
}

// rateLimitMiddleware throttles requests per client IP and route. It fails open when the limiter errors.
// A nil limiter disables throttling.
func rateLimitMiddleware(limiter *ratelimit.Limiter, logger core.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limiter == nil {
			return next
		}
		return func(ctx echo.Context) error {
			key := ctx.Path() + ":" + ctx.RealIP()
			res, err := limiter.Allow(ctx.Request().Context(), key)
			if err != nil {
				msg := "rate limiter unavailable"
				logger.Warn(msg, errors.Wrap(err, msg))
				return next(ctx)
			}

			h := ctx.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds() + 0.5)
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				return ctx.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       true,
					"message":     "Too many attempts. Please try again later.",
					"retry_after": retryAfter,
				})
			}
			return next(ctx)
		}
	}
}
