package alerting

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nucmed/nucmed/internal/platform/auth"
)

type Handler struct {
	monitor *Monitor
}

func NewHandler(m *Monitor) *Handler {
	return &Handler{monitor: m}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.AllRoles...))
	read.GET("/alerts/current", h.Current)
}

// Current returns the monitor's last snapshot. Only callers scoped to the
// monitored site may read it; other sites evaluate through GET /alerts.
func (h *Handler) Current(c echo.Context) error {
	site, _ := c.Get("site_id").(string)
	if site != h.monitor.Site() {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("site %q is not monitored; use GET /alerts", site))
	}
	snap, ok := h.monitor.Latest()
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no alert evaluation has completed yet")
	}
	return c.JSON(http.StatusOK, snap)
}
