package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/admsgw/internal/observability"
)

// LoggingMiddleware logs each request with slog.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", duration.String(),
			"ip", c.ClientIP(),
		}
		if sn := c.Query("SN"); sn != "" {
			attrs = append(attrs, "device_sn", sn)
		}
		slog.Info("request", attrs...)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())
	}
}

// DeviceResponse wraps the terminal-facing routes. Whatever happens in the
// handler, including a panic, the terminal gets a response; handlers that
// write nothing answer 200 "OK". Errors attached with c.Error are logged.
func DeviceResponse() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.Abort()
				slog.Error("iclock handler panic",
					"device_sn", c.Query("SN"),
					"path", c.Request.URL.Path,
					"panic", r,
				)
			}
			for _, e := range c.Errors {
				slog.Warn("iclock request error",
					"device_sn", c.Query("SN"),
					"path", c.Request.URL.Path,
					"error", e.Err,
				)
			}
			if !c.Writer.Written() {
				c.Data(http.StatusOK, "text/plain", []byte("OK"))
			}
		}()

		c.Next()
	}
}

// Toucher records device contact.
type Toucher interface {
	Touch(ctx context.Context, serialNumber string) error
}

// Heartbeat records contact from the device named by the SN query parameter
// before the handler runs. Failures are logged and the request continues.
func Heartbeat(t Toucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sn := c.Query("SN"); sn != "" {
			if err := t.Touch(c.Request.Context(), sn); err != nil {
				slog.Warn("device heartbeat", "device_sn", sn, "error", err)
			}
		}
		c.Next()
	}
}
