// Package middleware holds the fiber middleware of the HTTP API.
package middleware

import (
	"time"

	fiber "github.com/gofiber/fiber/v2"

	log "github.com/paperhtml/renderd/internal/logger"
)

// Logger returns a middleware that logs HTTP requests
func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		stop := time.Now()
		fields := map[string]interface{}{
			"timestamp": stop.Format("2006/01/02 - 15:04:05"),
			"status":    c.Response().StatusCode(),
			"latency":   stop.Sub(start),
			"ip":        c.IP(),
			"method":    c.Method(),
			"path":      c.Path(),
			"handler":   c.Route().Name,
		}
		if err != nil {
			fields["error"] = err.Error()
		}

		// health probes only at debug
		if c.Path() == "/health" {
			log.DebugWithFields("Request", fields)
			return err
		}
		log.InfoWithFields("Request", fields)

		return err
	}
}
