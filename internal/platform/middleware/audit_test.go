package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nucmed/nucmed/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func newAuditContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "rph-7", []string{auth.RoleRadiopharmacist}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-42")
	c.Set("site_id", "lyon")
	return c, rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusCreated, "ok")
}

func TestAudit_RecordsLotMutation(t *testing.T) {
	lotID := uuid.New().String()
	c, _ := newAuditContext(http.MethodPost, "/api/v1/lots/"+lotID+"/preparations")
	rec := &mockRecorder{}

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(rec.entries))
	}
	got := rec.entries[0]
	if got.UserID != "rph-7" || got.SiteID != "lyon" || got.RequestID != "req-42" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.Resource != "preparations" || got.LotID != lotID || got.Action != "create" {
		t.Errorf("unexpected resource fields: %+v", got)
	}
	if got.StatusCode != http.StatusCreated {
		t.Errorf("expected status 201, got %d", got.StatusCode)
	}
}

func TestAudit_RecordsRefusedMutation(t *testing.T) {
	c, _ := newAuditContext(http.MethodPost, "/api/v1/lots")
	rec := &mockRecorder{}
	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "lot expired")
	}

	Audit(zerolog.Nop(), rec)(handler)(c)

	if len(rec.entries) != 1 || rec.entries[0].StatusCode != http.StatusConflict {
		t.Fatalf("expected a 409 audit entry, got %+v", rec.entries)
	}
	if rec.entries[0].Resource != "lots" || rec.entries[0].LotID != "" {
		t.Errorf("unexpected resource fields: %+v", rec.entries[0])
	}
}

func TestAudit_SkipsReadsAndCalculations(t *testing.T) {
	rec := &mockRecorder{}
	mw := Audit(zerolog.Nop(), rec)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/lots"},
		{http.MethodPost, "/api/v1/calculations/decay"},
		{http.MethodGet, "/api/v1/alerts"},
	} {
		c, _ := newAuditContext(tc.method, tc.path)
		mw(okHandler)(c)
	}
	if len(rec.entries) != 0 {
		t.Errorf("expected no audit entries, got %d", len(rec.entries))
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf strings.Builder
	c, _ := newAuditContext(http.MethodPost, "/api/v1/lots")
	rec := &mockRecorder{err: errors.New("disk full")}

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("handler result must not depend on the recorder, got %v", err)
	}
	if !strings.Contains(buf.String(), "failed to record audit entry") {
		t.Errorf("expected recorder failure to be logged, got %s", buf.String())
	}
}

func TestSplitLotPath(t *testing.T) {
	id := "0b7e3a4c-5d2f-4e19-9a61-7c8d9e0f1a2b"
	tests := []struct {
		path, resource, lotID string
	}{
		{"/api/v1/lots", "lots", ""},
		{"/api/v1/lots/", "lots", ""},
		{"/api/v1/lots/" + id, "lots", id},
		{"/api/v1/lots/" + id + "/quality-control", "quality-control", id},
		{"/api/v1/lots/not-a-uuid/dispose", "dispose", ""},
	}
	for _, tt := range tests {
		resource, lotID := splitLotPath(tt.path)
		if resource != tt.resource || lotID != tt.lotID {
			t.Errorf("splitLotPath(%q) = (%q, %q), want (%q, %q)", tt.path, resource, lotID, tt.resource, tt.lotID)
		}
	}
}
