package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/invite"
)

var errCodeNotFound = echo.NewHTTPError(http.StatusNotFound, "Invitation code not found")

type adminApi struct {
	svc      *account.Service
	ledger   *invite.Ledger
	auditSvc *audit.Service
	validate *validator.Validate
}

func registerAdminAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := adminApi{
		svc:      deps.AccountSvc,
		ledger:   deps.Ledger,
		auditSvc: deps.AuditSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/admin", auth, adminMiddleware())
	ag.GET("/pending-users", api.pendingUsers)
	ag.POST("/approve-user/:id", api.approveUser)
	ag.POST("/reject-user/:id", api.rejectUser)
	ag.GET("/teachers", api.listByRole(core.RoleTeacher, "teachers"))
	ag.GET("/students", api.listByRole(core.RoleStudent, "students"))

	ag.GET("/invitation-codes", api.queryCodes)
	ag.POST("/invitation-codes", api.createCode)
	ag.POST("/invitation-codes/:code/deactivate", api.deactivateCode)

	ag.GET("/audit-logs", api.auditLogs)
	ag.GET("/audit-logs/user/:id", api.auditLogs)
}

func contextCaller(ctx echo.Context) core.Caller {
	acc, _ := contextAccount(ctx)
	return acc.Caller()
}

// Handlers

func (api *adminApi) pendingUsers(ctx echo.Context) error {
	users, err := api.svc.QueryPending(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying pending accounts")
	}
	if users == nil {
		users = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"error": false, "users": users})
}

func (api *adminApi) approveUser(ctx echo.Context) error {
	var data account.Approval
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Approval")
	}

	acc, err := api.svc.Approve(ctx.Request().Context(), contextCaller(ctx), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "approving account")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"error": false, "message": "User approved successfully", "user": acc})
}

func (api *adminApi) rejectUser(ctx echo.Context) error {
	if _, err := api.svc.Reject(ctx.Request().Context(), contextCaller(ctx), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "rejecting account")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"error": false, "message": "User rejected"})
}

func (api *adminApi) listByRole(role, key string) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		users, err := api.svc.ListByRole(ctx.Request().Context(), role)
		if err != nil {
			return errors.Wrapf(err, "listing %s", key)
		}
		if users == nil {
			users = []account.Account{}
		}
		return ctx.JSON(http.StatusOK, echo.Map{"success": true, key: users})
	}
}

func (api *adminApi) queryCodes(ctx echo.Context) error {
	codes, err := api.ledger.Query(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying invitation codes")
	}
	if codes == nil {
		codes = []invite.Code{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "codes": codes})
}

func (api *adminApi) createCode(ctx echo.Context) error {
	var data invite.NewCode
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCode")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.ledger.Create(ctx.Request().Context(), contextCaller(ctx), data)
	if err != nil {
		return errors.Wrap(err, "creating invitation code")
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"success": true, "code": c})
}

func (api *adminApi) deactivateCode(ctx echo.Context) error {
	c, err := api.ledger.Deactivate(ctx.Request().Context(), contextCaller(ctx), ctx.Param("code"))
	if err != nil {
		if errors.Cause(err) == invite.ErrNotFound {
			return errCodeNotFound
		}
		return errors.Wrap(err, "deactivating invitation code")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "code": c})
}

func (api *adminApi) auditLogs(ctx echo.Context) error {
	entries, err := api.auditSvc.Query(ctx.Request().Context(), audit.QueryFilter{
		UserID: ctx.Param("id"),
		Limit:  queryLimit(ctx),
	})
	if err != nil {
		return errors.Wrap(err, "querying audit logs")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"success": true, "data": entries})
}
