package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nucmed/nucmed/internal/platform/auth"
)

// AuditEntry records who changed radiopharmacy records, when and from where.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	SiteID     string
	Resource   string // lots, quality-control, preparations, ...
	LotID      string
	Action     string // create, update, delete
	Method     string
	Path       string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries in addition to the log line.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request under /api/v1/lots. Reads and
// stateless calculations are not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditable(req.Method, req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			resource, lotID := splitLotPath(req.URL.Path)
			ctx := req.Context()
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   resource,
				LotID:      lotID,
				Action:     httpMethodToAction(req.Method),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}
			entry.SiteID, _ = c.Get("site_id").(string)
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("site_id", entry.SiteID).
				Str("resource", entry.Resource).
				Str("lot_id", entry.LotID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("lot_change")

			return err
		}
	}
}

func isAuditable(method, path string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return path == "/api/v1/lots" || strings.HasPrefix(path, "/api/v1/lots/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// splitLotPath parses /api/v1/lots[/<id>[/<sub>]] into the resource touched
// and the lot id.
//
//   - /api/v1/lots                      -> lots, ""
//   - /api/v1/lots/<id>/dispose         -> dispose, <id>
//   - /api/v1/lots/<id>/quality-control -> quality-control, <id>
func splitLotPath(path string) (resource, lotID string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource = segments[0]
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			lotID = segments[1]
		}
	}
	if len(segments) > 2 && segments[2] != "" {
		resource = segments[2]
	}
	return resource, lotID
}
