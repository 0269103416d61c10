package tracer

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nucmed/nucmed/internal/platform/auth"
	"github.com/nucmed/nucmed/internal/radiopharm"
	"github.com/nucmed/nucmed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.AllRoles...))
	read.GET("/lots", h.ListLots)
	read.GET("/lots/:id", h.GetLot)
	read.GET("/lots/:id/status", h.GetLotStatus)
	read.GET("/lots/:id/quality-control", h.ListQC)
	read.GET("/lots/:id/preparations", h.ListPreparations)
	read.GET("/alerts", h.ListAlerts)

	pharmacy := api.Group("", auth.RequireRole(auth.RoleRadiopharmacist))
	pharmacy.POST("/lots", h.CreateLot)
	pharmacy.POST("/lots/:id/quality-control", h.RecordQC)
	pharmacy.POST("/lots/:id/dispose", h.DisposeLot)

	prep := api.Group("", auth.RequireRole(auth.RoleRadiopharmacist, auth.RoleTechnologist))
	prep.POST("/lots/:id/preparations", h.RecordPreparation)
}

// -- Lots --

func (h *Handler) CreateLot(c echo.Context) error {
	var l Lot
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateLot(c.Request().Context(), &l); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) GetLot(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.GetLot(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLots(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLots(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.Write(c, pg, items, total))
}

func (h *Handler) GetLotStatus(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.LotStatus(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DisposeLot(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DisposeLot(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Quality control --

func (h *Handler) RecordQC(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	var in QCInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.RecordQC(ctx, id, in, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListQC(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	records, err := h.svc.ListQC(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// -- Preparations --

func (h *Handler) RecordPreparation(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	var p Preparation
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	p.PreparedBy = auth.UserIDFromContext(ctx)
	if err := h.svc.RecordPreparation(ctx, id, &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPreparations(c echo.Context) error {
	id, err := lotID(c)
	if err != nil {
		return err
	}
	preps, err := h.svc.ListPreparations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, preps)
}

// -- Alerts --

// ListAlerts evaluates the active lots of the request's site now.
func (h *Handler) ListAlerts(c echo.Context) error {
	alerts, err := h.svc.EvaluateAlerts(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if alerts == nil {
		alerts = []radiopharm.Alert{}
	}
	return c.JSON(http.StatusOK, alerts)
}

func lotID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func httpError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr), radiopharm.IsInputError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrLotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateLot),
		errors.Is(err, ErrLotDisposed),
		errors.Is(err, ErrLotExpired),
		errors.Is(err, ErrQCNotPassed),
		errors.Is(err, ErrInsufficientActivity):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
