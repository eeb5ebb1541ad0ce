package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a logged 500. The log entry carries the
// route and, on batch routes, the batch id; the response carries the request
// id so the failing call can be found in the log.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				rid, _ := c.Get("request_id").(string)
				ev := logger.Error().
					Str("request_id", rid).
					Str("route", c.Request().Method+" "+c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Bytes("stack", debug.Stack())
				if id := c.Param("id"); id != "" {
					ev = ev.Str("batch", id)
				}
				ev.Msg("panic recovered")

				msg := "internal server error"
				if rid != "" {
					msg += " (request " + rid + ")"
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, msg)
			}()
			return next(c)
		}
	}
}
