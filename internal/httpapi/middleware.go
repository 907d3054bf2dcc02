package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
	"github.com/tm2bridge/tm2bridge/internal/audit"
	"github.com/tm2bridge/tm2bridge/internal/metrics"
	"github.com/tm2bridge/tm2bridge/internal/models"
	"github.com/tm2bridge/tm2bridge/internal/ratelimit"
)

// securityHeaders sets the standard defensive response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requestID assigns a request id header if the caller did not supply one.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// identity extracts the caller identity used both as the rate-limiter
// bucket key and as the audit actor: the configured identity header,
// falling back to the first X-Forwarded-For entry, then "anonymous".
func (s *Server) identity(c *echo.Context) string {
	if v := c.Request().Header.Get(s.cfg.IdentityHeader); v != "" {
		return v
	}
	if xff := c.Request().Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	return "anonymous"
}

// rateLimited wraps a handler with the given rate-limiter class,
// setting the standard headers on every response and returning 429
// with Retry-After when the caller's bucket is exhausted.
func (s *Server) rateLimited(class *ratelimit.Class, next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		result := class.Allow(s.identity(c))
		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetSecs, 10))

		if !result.Allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues(class.Name()).Inc()
			h.Set("Retry-After", strconv.FormatInt(result.RetryAfter, 10))
			return writeAppError(c, apperr.Wrap(apperr.KindRateLimited, class.Message(), nil))
		}
		return next(c)
	}
}

// auditMiddleware records every request except health/metrics probes,
// after the response has been written, on the async recorder.
func (s *Server) auditMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			path := c.Request().URL.Path
			if path == "/health" || path == "/health/ready" || path == "/metrics" {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status == 0 {
					status = http.StatusInternalServerError
				}
			}

			action, resourceType := audit.DeriveAction(c.Request().Method, path)
			s.auditRec.Record(models.AuditRecord{
				Action:         action,
				ResourceType:   resourceType,
				Actor:          s.identity(c),
				IP:             c.RealIP(),
				UserAgent:      c.Request().UserAgent(),
				Method:         c.Request().Method,
				Path:           path,
				ResponseStatus: status,
				DurationMS:     time.Since(start).Milliseconds(),
			})

			return err
		}
	}
}
