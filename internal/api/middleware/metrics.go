package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lampwatch/lampwatch/internal/observability/metrics"
)

// NewMetrics records request counts and latency labelled by route pattern,
// so /images/:name is a single series regardless of the file requested.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil && !c.Response().Committed {
				// render now so the recorded status is the one the client sees
				c.Error(err)
			}
			status := c.Response().Status

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordRequest(c.Request().Method, path, status, time.Since(start))
			return err
		}
	}
}

func newRequestID() string {
	return uuid.NewString()
}
