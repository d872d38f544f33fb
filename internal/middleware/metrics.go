package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"mirror-proxy/internal/metrics"
)

// MetricsMiddleware records the count, latency and body bytes of every
// inbound request. Streamed bodies are counted once the copy finishes.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// Router errors (405) are returned as *echo.HTTPError and written
			// later by the central error handler. Any other error that left
			// the response uncommitted becomes a 500.
			res := c.Response()
			statusCode := res.Status
			if err != nil && !res.Committed {
				statusCode = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			method := metrics.NormalizeMethod(c.Request().Method)
			path := metrics.NormalizePath(c.Request().URL.Path)
			status := strconv.Itoa(statusCode)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())
			if res.Size > 0 {
				m.ResponseBytes.WithLabelValues(path).Add(float64(res.Size))
			}

			return err
		}
	}
}
