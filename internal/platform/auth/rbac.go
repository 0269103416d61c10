package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles recognised by the radiopharmacy API. Admin passes every check.
const (
	RoleAdmin           = "admin"
	RoleRadiopharmacist = "radiopharmacist"
	RolePhysicist       = "physicist"
	RoleTechnologist    = "technologist"
	RolePhysician       = "physician"
)

// AllRoles lists every role, for read-only routes open to all staff.
var AllRoles = []string{RoleRadiopharmacist, RolePhysicist, RoleTechnologist, RolePhysician}

// HasRole reports whether roles grant any of required.
func HasRole(roles []string, required ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
