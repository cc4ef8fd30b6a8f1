package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const slowRequestThreshold = 500 * time.Millisecond

// probePaths are scraped by orchestrators and Prometheus every few seconds.
var probePaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// Zerolog logs every request at level. Probe requests are logged at debug
// level unless they fail or are slow.
func Zerolog(log zerolog.Logger, level zerolog.Level) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		var e *zerolog.Event
		switch _, probe := probePaths[c.FullPath()]; {
		case latency > slowRequestThreshold:
			logRequest(log.Warn(), c, latency).Msg("SLOW HTTP request")
			return
		case status >= http.StatusInternalServerError:
			e = log.Error()
		case probe:
			e = log.Debug()
		default:
			e = log.WithLevel(level)
		}

		logRequest(e, c, latency).Msg("HTTP request")
	}
}

func logRequest(e *zerolog.Event, c *gin.Context, latency time.Duration) *zerolog.Event {
	return e.
		Str("http.client_ip", c.ClientIP()).
		Str("http.method", c.Request.Method).
		Str("http.path", c.Request.URL.Path).
		Int("http.status", c.Writer.Status()).
		Dur("http.latency", latency).
		Int("http.errors", len(c.Errors))
}

// CORS allows read-only access. Allowed origins are comma separated; empty means any.
func CORS(allowedOrigins string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}

	if strings.TrimSpace(allowedOrigins) == "" {
		config.AllowAllOrigins = true
		return cors.New(config)
	}

	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			config.AllowOrigins = append(config.AllowOrigins, origin)
		}
	}

	return cors.New(config)
}

// Timeout puts a deadline on the request context. Handlers pass it down to
// the database and RPC calls; a handler that returns without writing after
// the deadline gets a 504.
func Timeout(timeout time.Duration, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Writer.Written() {
			return
		}

		log.Warn().
			Str("http.method", c.Request.Method).
			Str("http.path", c.Request.URL.Path).
			Dur("http.timeout", timeout).
			Msg("HTTP request timed out")

		ErrGatewayTimeout(c, errors.New("request timeout"))
	}
}
