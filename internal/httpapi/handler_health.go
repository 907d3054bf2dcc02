package httpapi

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// healthHandler handles GET /health: a liveness probe that never
// touches the database or upstream dependencies.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readyHandler handles GET /health/ready: a readiness probe covering
// the database pool and, best-effort, the WHO ICD-11 connectivity
// probe. A WHO outage never fails readiness — the bridge still serves
// cached mappings and its own catalog without it.
func (s *Server) readyHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	dbErr := s.db.Health(ctx)
	who := s.probe.Ping(ctx)

	status := http.StatusOK
	dbStatus := "ok"
	if dbErr != nil {
		status = http.StatusServiceUnavailable
		dbStatus = dbErr.Error()
	}

	return c.JSON(status, map[string]any{
		"status":   map[bool]string{true: "ok", false: "degraded"}[dbErr == nil],
		"database": dbStatus,
		"who_icd11": map[string]any{
			"reachable": who.Reachable,
		},
	})
}
