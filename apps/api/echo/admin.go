package echoapi

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/account"
)

type adminApi struct {
	svc      account.Service
	adminSvc account.AdminService
}

func registerAdminAPI(g *echo.Group, svc account.Service, adminSvc account.AdminService) {
	api := adminApi{svc: svc, adminSvc: adminSvc}

	ag := g.Group("/admin", authMiddleware(svc), adminMiddleware)

	ag.GET("/dashboard", api.dashboardStats)
	ag.GET("/roles", api.queryRoles)

	ac := ag.Group("/accounts")
	ac.POST("", api.createAdmin)
	ac.GET("", api.queryAccounts)
	ac.DELETE("", api.destroyMultiple)
	ac.GET("/pending", api.pendingAccounts)
	ac.GET("/payment-slips", api.paymentSlipAccounts)
	ac.GET("/:id", api.retrieveAccount)
	ac.POST("/:id/approve", api.approve)
	ac.POST("/:id/reject", api.reject)
	ac.POST("/:id/verify-payment", api.verifyPayment)
	ac.POST("/:id/reject-payment", api.rejectPayment)
	ac.POST("/:id/toggle-suspension", api.toggleSuspension)
	ac.POST("/:id/extend-subscription", api.extendSubscription)
}

// Handlers

func (api *adminApi) dashboardStats(ctx echo.Context) error {
	stats, err := api.adminSvc.DashboardStats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing dashboard stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *adminApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, account.Roles)
}

func (api *adminApi) createAdmin(ctx echo.Context) error {
	var data account.NewAdmin
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAdmin")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	acct, err := api.svc.CreateAdmin(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating admin")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *adminApi) queryAccounts(ctx echo.Context) error {
	filter := new(account.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []account.Account{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.adminSvc.Accounts(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying accounts")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *adminApi) pendingAccounts(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.adminSvc.PendingAccounts(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying pending accounts")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *adminApi) paymentSlipAccounts(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.adminSvc.PaymentSlipAccounts(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying payment slip accounts")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *adminApi) retrieveAccount(ctx echo.Context) error {
	acct, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding account")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) approve(ctx echo.Context) error {
	admin, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.ApproveAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApproveAccount")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.Approve(ctx.Request().Context(), admin, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "approving account")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) reject(ctx echo.Context) error {
	admin, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.RejectAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectAccount")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.Reject(ctx.Request().Context(), admin, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "rejecting account")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) verifyPayment(ctx echo.Context) error {
	admin, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.VerifyPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyPayment")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.VerifyPayment(ctx.Request().Context(), admin, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "verifying payment")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) rejectPayment(ctx echo.Context) error {
	admin, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.RejectPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectPayment")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.RejectPayment(ctx.Request().Context(), admin, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "rejecting payment")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) toggleSuspension(ctx echo.Context) error {
	var data account.ToggleSuspension
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ToggleSuspension")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.ToggleSuspension(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "toggling suspension")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) extendSubscription(ctx echo.Context) error {
	var data account.ExtendSubscriptionData
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExtendSubscriptionData")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.adminSvc.ExtendSubscription(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "extending subscription")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *adminApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	// Say No to Suicide! the admin cannot delete themselves
	admin, err := getContextAccount(ctx)
	if err != nil {
		return err
	}
	sort.Strings(query.IDs)
	if i := sort.SearchStrings(query.IDs, admin.ID); i < len(query.IDs) && query.IDs[i] == admin.ID {
		return errHttpForbidden
	}

	if _, err := api.adminSvc.DeleteAccounts(ctx.Request().Context(), query.IDs...); err != nil {
		return errors.Wrap(err, "deleting accounts")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type DestroyMultipleRequest struct {
	IDs []string `query:"id"`
}
