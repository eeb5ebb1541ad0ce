package auth

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole guards a route group of the submission API. Viewers may read
// batch history and the archive, curators may also upload, validate and
// submit. An admin token is accepted everywhere. The 403 names the subject and
// the roles that would have been accepted so a curator can request the right
// token.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			granted := RolesFromContext(ctx)
			if slices.Contains(granted, RoleAdmin) || slices.ContainsFunc(granted, func(r string) bool {
				return slices.Contains(roles, r)
			}) {
				return next(c)
			}
			subject := UserIDFromContext(ctx)
			if subject == "" {
				subject = "anonymous"
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("%s may not %s %s: role %s required", subject, c.Request().Method, c.Path(), strings.Join(roles, " or ")))
		}
	}
}
