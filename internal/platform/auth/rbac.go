package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
	RolePhysician  = "physician"
	RoleNurse      = "nurse"
)

// Role sets used by the route tables.
var (
	ReadRoles     = []string{RoleAdmin, RolePharmacist, RolePhysician, RoleNurse}
	WriteRoles    = []string{RoleAdmin, RolePharmacist}
	DispenseRoles = []string{RoleAdmin, RolePharmacist}
	AdminRoles    = []string{RoleAdmin}
)

// RequireRole lets the request through when the user holds any of roles.
// Admin always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

func HasAnyRole(userRoles []string, roles ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}
