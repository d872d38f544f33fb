package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"mirror-proxy/internal/config"
)

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// from the incoming request before it is forwarded, including any header
// the client names in Connection, and marks responses nosniff.
func SecurityHeaders(mirror *config.Mirror) echo.MiddlewareFunc {
	hopByHop := mirror.HopByHop()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, v := range h.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = strings.TrimSpace(name); name != "" {
						h.Del(name)
					}
				}
			}
			for _, name := range hopByHop {
				h.Del(name)
			}

			// Set before the handler runs; proxied responses commit headers early.
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")

			return next(c)
		}
	}
}
