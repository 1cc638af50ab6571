package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/account"
)

// authMiddleware authenticates the request: it verifies the access JWT,
// loads the account it names and evaluates the access gate before any
// handler runs. The loaded account is attached to the request context.
func authMiddleware(svc account.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token, err := extractToken(ctx)
			if err != nil {
				return err
			}

			claims := new(Claims)
			if err := parseToken(token, claims); err != nil {
				return err
			}

			acct, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == account.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding account by ID")
			}

			if err := svc.CheckAccess(ctx.Request().Context(), acct); err != nil {
				return trapAccessDeniedErr(err)
			}

			ctx.Set(contextAccountKey, acct)
			return next(ctx)
		}
	}
}

// roleMiddleware passes only accounts whose role is in the allowed set.
// Each route declares its own set, no role implies another.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			acct, err := getContextAccount(ctx)
			if err != nil {
				return err
			}
			for _, role := range roles {
				if acct.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

var (
	adminMiddleware          = roleMiddleware(account.RoleAdmin)
	principalStaffMiddleware = roleMiddleware(account.RolePrincipal, account.RoleSubadmin)
	teacherMiddleware        = roleMiddleware(account.RoleTeacher)
	studentMiddleware        = roleMiddleware(account.RoleStudent)
	educatorMiddleware       = roleMiddleware(account.RolePrincipal, account.RoleSubadmin, account.RoleTeacher)
)
