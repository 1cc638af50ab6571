package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

type accountApi struct {
	svc     account.Service
	storage core.FileStorage
}

func registerAccountAPI(g *echo.Group, svc account.Service, storage core.FileStorage) {
	api := accountApi{svc: svc, storage: storage}

	ag := g.Group("/accounts")

	// un-authed endpoints
	// TODO: rate limit `/login`, `/password-reset` & `/password-reset-confirm`
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("/password-reset", api.requestPasswordReset)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	authed := ag.Group("", authMiddleware(svc))
	authed.POST("/logout", api.logout)
	authed.GET("/me", api.me)
	authed.PUT("/me", api.updateProfile)
	authed.PUT("/me/avatar", api.setAvatar)
	authed.PUT("/me/password", api.changePassword)
	authed.GET("/me/subscription", api.subscription)
	authed.POST("/me/payment-slip", api.attachPaymentSlip, roleMiddleware(account.RolePrincipal))

	// school member management
	stg := authed.Group("/students", principalStaffMiddleware)
	stg.POST("", api.addStudent)
	stg.GET("", api.students)
	stg.PUT("/:id", api.updateStudent)
	stg.DELETE("/:id", api.deleteStudent)

	tg := authed.Group("/teachers", principalStaffMiddleware)
	tg.POST("", api.addTeacher)
	tg.GET("", api.teachers)

	sg := authed.Group("/subadmins", roleMiddleware(account.RolePrincipal))
	sg.POST("", api.addSubadmin)
}

// Handlers

func (api *accountApi) register(ctx echo.Context) error {
	var data account.NewPrincipal
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPrincipal")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	acct, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering principal")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *accountApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acct, err := api.svc.Authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		switch errors.Cause(err) {
		case account.ErrNotFound, account.ErrInvalidCredentials:
			return errAuthenticationFailed
		}
		return trapAccessDeniedErr(err)
	}

	pair, err := generateTokenPair(ctx.Request().Context(), acct, api.svc)
	if err != nil {
		return errors.Wrap(err, "generating token pair")
	}
	setAuthCookies(ctx, pair)
	return ctx.JSON(http.StatusOK, LoginResponse{TokenPair: pair, Account: acct})
}

func (api *accountApi) refreshToken(ctx echo.Context) error {
	var data RefreshRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RefreshRequest")
	}
	if data.RefreshToken == "" {
		if cookie, err := ctx.Cookie(refreshTokenCookie); err == nil {
			data.RefreshToken = cookie.Value
		}
	}
	if data.RefreshToken == "" {
		return errUnauthorized
	}

	pair, err := refreshTokenPair(ctx, data.RefreshToken, api.svc)
	if err != nil {
		return err
	}
	setAuthCookies(ctx, pair)
	return ctx.JSON(http.StatusOK, pair)
}

func (api *accountApi) logout(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}
	if _, err := api.svc.ClearRefreshToken(ctx.Request().Context(), acct); err != nil {
		return errors.Wrap(err, "clearing refresh token")
	}
	clearAuthCookies(ctx)
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Logged out."})
}

func (api *accountApi) requestPasswordReset(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == account.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *accountApi) confirmPasswordReset(ctx echo.Context) error {
	var data account.ResetAccountPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetAccountPassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *accountApi) me(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) updateProfile(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.UpdateProfile
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProfile")
	}
	if err := data.Validate(ctx.Request().Context(), acct, api.svc); err != nil {
		return err
	}

	acct, err = api.svc.UpdateProfile(ctx.Request().Context(), acct, data)
	if err != nil {
		return errors.Wrap(err, "updating profile")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) setAvatar(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	url, err := api.upload(ctx, "avatar", fmt.Sprintf("avatars/%s", acct.ID))
	if err != nil {
		return err
	}

	acct, err = api.svc.SetAvatar(ctx.Request().Context(), acct, url)
	if err != nil {
		return errors.Wrap(err, "setting avatar")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) changePassword(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.ChangePassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ChangePassword")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	if _, err := api.svc.ChangePassword(ctx.Request().Context(), acct, data); err != nil {
		return errors.Wrap(err, "changing password")
	}
	clearAuthCookies(ctx)
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password changed. Please log in again."})
}

func (api *accountApi) subscription(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	details, err := api.svc.SubscriptionDetails(ctx.Request().Context(), acct)
	if err != nil {
		return errors.Wrap(err, "getting subscription details")
	}
	return ctx.JSON(http.StatusOK, details)
}

func (api *accountApi) attachPaymentSlip(ctx echo.Context) error {
	acct, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	url, err := api.upload(ctx, "payment_slip", fmt.Sprintf("payment-slips/%s", acct.ID))
	if err != nil {
		return err
	}

	acct, err = api.svc.AttachPaymentSlip(ctx.Request().Context(), acct, url)
	if err != nil {
		return errors.Wrap(err, "attaching payment slip")
	}
	return ctx.JSON(http.StatusOK, acct)
}

func (api *accountApi) addStudent(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	acct, err := api.svc.AddStudent(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "adding student")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *accountApi) students(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	filter := new(account.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []account.Account{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.svc.Students(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *accountApi) updateStudent(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.UpdateStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}

	student, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding student")
	}
	if err := data.Validate(ctx.Request().Context(), student, api.svc); err != nil {
		return err
	}

	student, err = api.svc.UpdateStudent(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, student)
}

func (api *accountApi) deleteStudent(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.DeleteStudent(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *accountApi) addTeacher(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.NewTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeacher")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	acct, err := api.svc.AddTeacher(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "adding teacher")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

func (api *accountApi) teachers(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	filter := new(account.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []account.Account{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accts, err := api.svc.Teachers(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	if accts == nil {
		accts = []account.Account{}
	}
	return ctx.JSON(http.StatusOK, accts)
}

func (api *accountApi) addSubadmin(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data account.NewSubadmin
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubadmin")
	}
	if err := data.Validate(ctx.Request().Context(), api.svc); err != nil {
		return err
	}

	acct, err := api.svc.AddSubadmin(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "adding subadmin")
	}
	return ctx.JSON(http.StatusCreated, acct)
}

// upload reads a multipart file field and stores it, returning the URL.
func (api *accountApi) upload(ctx echo.Context, field, prefix string) (string, error) {
	fileHdr, err := ctx.FormFile(field)
	if err != nil {
		return "", core.NewValidationError(nil, core.FieldError{Field: field, Error: "this file is required"})
	}
	src, err := fileHdr.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening upload")
	}
	defer func() { _ = src.Close() }()

	url, err := api.storage.Upload(ctx.Request().Context(), fmt.Sprintf("%s/%s", prefix, fileHdr.Filename), src)
	if err != nil {
		return "", errors.Wrap(err, "storing upload")
	}
	return url, nil
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		TokenPair
		Account account.Account `json:"account"`
	}

	RefreshRequest struct {
		RefreshToken string `json:"refresh_token"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate() error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return core.Validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate() error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return core.Validate.Struct(pr)
}
