package calculator

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nucmed/nucmed/internal/platform/auth"
	"github.com/nucmed/nucmed/internal/radiopharm"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func newTestHandler() (*Handler, *echo.Echo) {
	h := NewHandler()
	h.now = func() time.Time { return testNow }
	return h, echo.New()
}

func post(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithIdentity(req.Context(), "pharm-7", []string{auth.RoleRadiopharmacist}))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpStatus(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestListIsotopes(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.ListIsotopes(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var isotopes []radiopharm.Isotope
	json.Unmarshal(rec.Body.Bytes(), &isotopes)
	found := false
	for _, iso := range isotopes {
		if iso.Symbol == "Tc-99m" {
			found = true
		}
	}
	if !found {
		t.Error("expected Tc-99m in catalog")
	}
}

func TestGetIsotope(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("symbol")
	c.SetParamValues("tc99m")
	if err := h.GetIsotope(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var iso radiopharm.Isotope
	json.Unmarshal(rec.Body.Bytes(), &iso)
	if iso.Symbol != "Tc-99m" {
		t.Errorf("symbol = %q, want Tc-99m", iso.Symbol)
	}
}

func TestGetIsotope_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("symbol")
	c.SetParamValues("Xx-1")
	if code := httpStatus(t, h.GetIsotope(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestDecay_ElapsedHours(t *testing.T) {
	h, e := newTestHandler()
	c, rec := post(e, `{"isotope":"Tc-99m","initial_activity":1000,"elapsed_hours":6.02}`)
	if err := h.Decay(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d radiopharm.Decay
	json.Unmarshal(rec.Body.Bytes(), &d)
	if math.Abs(d.CurrentActivity-500) > 1 {
		t.Errorf("current_activity = %v, want ~500", d.CurrentActivity)
	}
}

func TestDecay_ReferenceTime(t *testing.T) {
	h, e := newTestHandler()
	ref := testNow.Add(-2 * time.Hour).Format(time.RFC3339)
	c, rec := post(e, `{"isotope":"F-18","initial_activity":100,"reference_time":"`+ref+`"}`)
	if err := h.Decay(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d radiopharm.Decay
	json.Unmarshal(rec.Body.Bytes(), &d)
	if math.Abs(d.ElapsedHours-2) > 1e-9 {
		t.Errorf("elapsed_hours = %v, want 2", d.ElapsedHours)
	}
}

func TestDecay_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no time", `{"isotope":"Tc-99m","initial_activity":1000}`},
		{"negative elapsed", `{"isotope":"Tc-99m","initial_activity":1000,"elapsed_hours":-1}`},
		{"zero activity", `{"isotope":"Tc-99m","initial_activity":0,"elapsed_hours":1}`},
		{"unknown isotope", `{"isotope":"Xx-1","initial_activity":10,"elapsed_hours":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler()
			c, _ := post(e, tt.body)
			if code := httpStatus(t, h.Decay(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestUsability_MinimumEqualsInitial(t *testing.T) {
	h, e := newTestHandler()
	ref := testNow.Format(time.RFC3339)
	c, rec := post(e, `{"isotope":"Tc-99m","initial_activity":500,"minimum_usable_activity":500,"reference_time":"`+ref+`"}`)
	if err := h.Usability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var w radiopharm.UsabilityWindow
	json.Unmarshal(rec.Body.Bytes(), &w)
	if !w.IsExpired || w.HoursRemaining != 0 {
		t.Errorf("expected expired with 0 hours remaining, got %+v", w)
	}
}

func TestUsability_MissingReference(t *testing.T) {
	h, e := newTestHandler()
	c, _ := post(e, `{"isotope":"Tc-99m","initial_activity":500,"minimum_usable_activity":100}`)
	if code := httpStatus(t, h.Usability(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestDosimetry_ConvertsUnit(t *testing.T) {
	h, e := newTestHandler()
	c, rec := post(e, `{"isotope":"Tc-99m","activity":20,"activity_unit":"mCi","exam_type":"bone scan","weight_kg":70,"age_years":40}`)
	if err := h.Dosimetry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res radiopharm.DosimetryResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if math.Abs(res.ActivityMBq-740) > 1e-6 {
		t.Errorf("activity_mbq = %v, want 740", res.ActivityMBq)
	}
	if res.EffectiveDose <= 0 {
		t.Errorf("effective_dose_msv = %v, want > 0", res.EffectiveDose)
	}
}

func TestDosimetry_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := post(e, `{"isotope":"Tc-99m","activity":740,"exam_type":"bone scan","weight_kg":0,"age_years":40}`)
	if code := httpStatus(t, h.Dosimetry(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	c, _ = post(e, `{"isotope":"Tc-99m","activity":740,"activity_unit":"rutherford","weight_kg":70,"age_years":40}`)
	if code := httpStatus(t, h.Dosimetry(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown unit, got %d", code)
	}
}

func TestQualityControl(t *testing.T) {
	h, e := newTestHandler()
	c, rec := post(e, `{"test_type":"pH","result":6.0}`)
	if err := h.QualityControl(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var qc radiopharm.QualityControlRecord
	json.Unmarshal(rec.Body.Bytes(), &qc)
	if !qc.Passed {
		t.Error("pH 6.0 should pass")
	}
	if qc.PerformedBy != "pharm-7" {
		t.Errorf("performed_by = %q, want caller", qc.PerformedBy)
	}
	if !qc.PerformedAt.Equal(testNow) {
		t.Errorf("performed_at = %v, want %v", qc.PerformedAt, testNow)
	}
}

func TestQualityControl_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := post(e, `{"test_type":"endotoxin","result":1}`)
	if code := httpStatus(t, h.QualityControl(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	c, _ = post(e, `{"test_type":"ph"}`)
	if code := httpStatus(t, h.QualityControl(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 without result, got %d", code)
	}
}

func TestRegisterRoutes_DosimetryRole(t *testing.T) {
	h, e := newTestHandler()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), "u", []string{c.Request().Header.Get("X-Test-Role")})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group("/api/v1"))

	body := `{"isotope":"Tc-99m","activity":740,"exam_type":"bone scan","weight_kg":70,"age_years":40}`
	for role, want := range map[string]int{
		auth.RoleTechnologist: http.StatusForbidden,
		auth.RolePhysicist:    http.StatusOK,
		auth.RolePhysician:    http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/calculations/dosimetry", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("X-Test-Role", role)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}
}
