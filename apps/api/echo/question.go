package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/question"
)

type questionApi struct {
	svc question.Service
}

func registerQuestionAPI(g *echo.Group, acctSvc account.Service, svc question.Service) {
	api := questionApi{svc: svc}

	maintainer := roleMiddleware(account.RoleAdmin, account.RoleTeacher)
	reader := roleMiddleware(account.RoleAdmin, account.RolePrincipal, account.RoleSubadmin, account.RoleTeacher)

	qg := g.Group("/questions", authMiddleware(acctSvc))
	qg.POST("", api.create, maintainer)
	qg.POST("/bulk", api.bulkCreate, maintainer)
	qg.GET("", api.query, reader)
	qg.GET("/stats", api.stats, adminMiddleware)
	qg.GET("/filter-options", api.filterOptions, reader)
	qg.POST("/for-test", api.sampleForTest, maintainer)

	dg := qg.Group("/:id")
	dg.GET("", api.retrieve, reader)
	dg.PUT("", api.update, maintainer)
	dg.DELETE("", api.softDelete, maintainer)
	dg.POST("/restore", api.restore, maintainer)
	dg.DELETE("/permanent", api.permanentDelete, adminMiddleware)
	dg.POST("/attempt", api.recordAttempt, studentMiddleware)
}

// Handlers

func (api *questionApi) create(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data question.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}

	q, err := api.svc.Create(ctx.Request().Context(), data, actor.ID)
	if err != nil {
		return errors.Wrap(err, "creating question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *questionApi) bulkCreate(ctx echo.Context) error {
	actor, err := getContextAccount(ctx)
	if err != nil {
		return err
	}

	var data []question.NewQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion list")
	}

	qs, err := api.svc.BulkCreate(ctx.Request().Context(), data, actor.ID)
	if err != nil {
		return errors.Wrap(err, "creating questions")
	}
	return ctx.JSON(http.StatusCreated, qs)
}

func (api *questionApi) query(ctx echo.Context) error {
	filter := new(question.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []question.Question{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	qs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying questions")
	}
	if qs == nil {
		qs = []question.Question{}
	}
	return ctx.JSON(http.StatusOK, qs)
}

func (api *questionApi) retrieve(ctx echo.Context) error {
	q, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "finding question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionApi) update(ctx echo.Context) error {
	var data question.UpdateQuestion
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuestion")
	}

	q, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionApi) softDelete(ctx echo.Context) error {
	if _, err := api.svc.SoftDelete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deactivating question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *questionApi) restore(ctx echo.Context) error {
	q, err := api.svc.Restore(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "restoring question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *questionApi) permanentDelete(ctx echo.Context) error {
	if err := api.svc.PermanentDelete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *questionApi) sampleForTest(ctx echo.Context) error {
	var data SampleRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SampleRequest")
	}

	qs, err := api.svc.SampleForTest(ctx.Request().Context(), data.SampleFilter, data.Count)
	if err != nil {
		return errors.Wrap(err, "sampling questions")
	}
	if qs == nil {
		qs = []question.Question{}
	}
	return ctx.JSON(http.StatusOK, qs)
}

func (api *questionApi) stats(ctx echo.Context) error {
	stats, err := api.svc.Stats(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "computing question stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *questionApi) filterOptions(ctx echo.Context) error {
	opts, err := api.svc.FilterOptions(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing filter options")
	}
	return ctx.JSON(http.StatusOK, opts)
}

func (api *questionApi) recordAttempt(ctx echo.Context) error {
	var data AttemptRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AttemptRequest")
	}

	if err := api.svc.RecordAttempt(ctx.Request().Context(), ctx.Param("id"), data.Correct); err != nil {
		return errors.Wrap(err, "recording attempt")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	SampleRequest struct {
		question.SampleFilter
		Count int `json:"count"`
	}

	AttemptRequest struct {
		Correct bool `json:"correct"`
	}
)
