package server

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Kundan10424/loom/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness reports whether the hub is accepting commands. There are
// no external stores to probe in this core; readiness degrades only when
// the hub actor stops responding.
func (s *Server) handleReadiness(c echo.Context) error {
	clients := s.hub.ClientCount()
	if clients < 0 {
		return c.JSON(503, map[string]any{
			"status":       "unhealthy",
			"failed_check": "hub",
		})
	}

	return c.JSON(200, map[string]any{
		"status":            "ready",
		"connected_clients": clients,
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
