// Package calculator exposes the stateless radiopharmacy calculations over
// HTTP. Nothing here is persisted.
package calculator

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nucmed/nucmed/internal/platform/auth"
	"github.com/nucmed/nucmed/internal/radiopharm"
)

type Handler struct {
	now func() time.Time
}

func NewHandler() *Handler {
	return &Handler{now: func() time.Time { return time.Now().UTC() }}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.AllRoles...))
	read.GET("/isotopes", h.ListIsotopes)
	read.GET("/isotopes/:symbol", h.GetIsotope)
	read.POST("/calculations/decay", h.Decay)
	read.POST("/calculations/usability", h.Usability)

	dose := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RolePhysicist))
	dose.POST("/calculations/dosimetry", h.Dosimetry)

	qc := api.Group("", auth.RequireRole(auth.RoleRadiopharmacist))
	qc.POST("/calculations/quality-control", h.QualityControl)
}

// -- Isotopes --

func (h *Handler) ListIsotopes(c echo.Context) error {
	return c.JSON(http.StatusOK, radiopharm.Isotopes())
}

func (h *Handler) GetIsotope(c echo.Context) error {
	iso, err := radiopharm.LookupIsotope(c.Param("symbol"))
	if errors.Is(err, radiopharm.ErrUnknownIsotope) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, iso)
}

// -- Calculations --

// DecayRequest takes either ElapsedHours or ReferenceTime. With a reference
// time the elapsed time runs to At, or to now.
type DecayRequest struct {
	Isotope         string     `json:"isotope"`
	InitialActivity float64    `json:"initial_activity"`
	ElapsedHours    *float64   `json:"elapsed_hours"`
	ReferenceTime   *time.Time `json:"reference_time"`
	At              *time.Time `json:"at"`
}

func (h *Handler) Decay(c echo.Context) error {
	var req DecayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var elapsed float64
	switch {
	case req.ElapsedHours != nil:
		elapsed = *req.ElapsedHours
	case req.ReferenceTime != nil:
		elapsed = h.at(req.At).Sub(*req.ReferenceTime).Hours()
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "elapsed_hours or reference_time is required")
	}
	d, err := radiopharm.ComputeDecay(req.Isotope, req.InitialActivity, elapsed)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

type UsabilityRequest struct {
	Isotope               string     `json:"isotope"`
	InitialActivity       float64    `json:"initial_activity"`
	MinimumUsableActivity float64    `json:"minimum_usable_activity"`
	ReferenceTime         time.Time  `json:"reference_time"`
	StatedExpiry          *time.Time `json:"stated_expiry_date"`
	At                    *time.Time `json:"at"`
}

func (h *Handler) Usability(c echo.Context) error {
	var req UsabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ReferenceTime.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "reference_time is required")
	}
	var stated time.Time
	if req.StatedExpiry != nil {
		stated = *req.StatedExpiry
	}
	w, err := radiopharm.ComputeUsabilityWindow(req.Isotope, req.InitialActivity, req.MinimumUsableActivity,
		req.ReferenceTime, h.at(req.At), stated)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// DosimetryRequest carries the administered activity in ActivityUnit,
// megabecquerels when empty.
type DosimetryRequest struct {
	Isotope      string  `json:"isotope"`
	Activity     float64 `json:"activity"`
	ActivityUnit string  `json:"activity_unit"`
	ExamType     string  `json:"exam_type"`
	WeightKg     float64 `json:"weight_kg"`
	AgeYears     float64 `json:"age_years"`
	IsPregnant   bool    `json:"is_pregnant"`
}

func (h *Handler) Dosimetry(c echo.Context) error {
	var req DosimetryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	unit, err := radiopharm.ParseActivityUnit(req.ActivityUnit)
	if err != nil {
		return httpError(err)
	}
	mbq, err := radiopharm.ConvertActivity(req.Activity, unit, radiopharm.UnitMBq)
	if err != nil {
		return httpError(err)
	}
	res, err := radiopharm.ComputeDosimetry(req.Isotope, mbq, radiopharm.ParseExamType(req.ExamType),
		req.WeightKg, req.AgeYears, req.IsPregnant)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// QualityControlRequest is evaluated without being stored. PerformedBy
// defaults to the caller.
type QualityControlRequest struct {
	TestType    string   `json:"test_type"`
	Result      *float64 `json:"result"`
	Unit        string   `json:"unit"`
	PerformedBy string   `json:"performed_by"`
	Notes       []string `json:"notes"`
}

func (h *Handler) QualityControl(c echo.Context) error {
	var req QualityControlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Result == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "result is required")
	}
	if req.PerformedBy == "" {
		req.PerformedBy = auth.UserIDFromContext(c.Request().Context())
	}
	rec, err := radiopharm.NewQCEvaluator(h.now).Evaluate(req.TestType, *req.Result, req.Unit, req.PerformedBy, req.Notes...)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) at(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return h.now()
}

func httpError(err error) error {
	if radiopharm.IsInputError(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
