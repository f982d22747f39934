package api

import (
	echo "github.com/labstack/echo/v5"
)

// securityHeaders hardens every HTTP response on the control surface. The
// server serves JSON and WebSocket upgrades only, so the headers exist to
// keep a response harmless if a browser is ever pointed at it: no framing,
// no MIME sniffing, no referrer leakage, no device permissions.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}
