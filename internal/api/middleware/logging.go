// Package middleware provides the echo middleware stack of the ingest API.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lampwatch/lampwatch/internal/logger"
)

// HeaderRequestID is set on every response and attached to request logs.
const HeaderRequestID = echo.HeaderXRequestID

// NewRequestLogger logs every request through log at INFO, or WARN for 5xx.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil)
}

// NewRequestLoggerWithSkipper is NewRequestLogger with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipper,
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			ctx := logger.WithTraceID(c.Request().Context(), v.RequestID)
			if v.Status >= 500 {
				log.WithContext(ctx).Warn("request", fields...)
				return nil
			}
			log.WithContext(ctx).Info("request", fields...)
			return nil
		},
	})
}

// NewRequestID assigns an X-Request-ID to requests that arrive without one.
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: newRequestID,
	})
}
