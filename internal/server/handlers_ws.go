package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Kundan10424/loom/internal/auth"
	"github.com/Kundan10424/loom/internal/metrics"
)

// handleWebSocket is the single entry point for collaboration connections.
// Connection limits and credential verification both run before the upgrade:
// a rejected client never holds an upgraded socket, and an unauthenticated
// one never reaches the hub.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	allowed, reason := s.limits.Acquire(ip)
	if !allowed {
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.Warn("Connection rejected", "ip", ip, "reason", reason)
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "connection limit reached"})
	}
	s.updateCapacityMetrics()

	identity, err := s.verifier.Authenticate(c.Request())
	if err != nil {
		s.release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("unauthorized").Inc()
		if errors.Is(err, auth.ErrNoToken) {
			metrics.AuthVerificationsTotal.WithLabelValues("missing").Inc()
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		}
		metrics.AuthVerificationsTotal.WithLabelValues("invalid").Inc()
		slog.Warn("Connection refused: invalid credential", "ip", ip, "error", err)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}
	metrics.AuthVerificationsTotal.WithLabelValues("success").Inc()

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade writes its own error response.
		s.release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.Warn("WebSocket upgrade failed", "ip", ip, "error", err)
		return nil
	}

	connID, err := s.hub.Attach(conn, identity)
	if err != nil {
		_ = conn.Close()
		s.release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.Error("Failed to attach connection", "ip", ip, "error", err)
		return nil
	}

	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	connectedAt := time.Now()
	slog.Info("User connected", "user", identity.Key(), "connection_id", connID.String(), "ip", ip)

	// Read pump: the only event source for this connection, so events are
	// processed in the order received. Blocks until disconnect.
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.hub.HandleMessage(connID, msg)
	}

	// Detach runs the per-room cleanup and user_left broadcasts.
	s.hub.Detach(connID)
	s.release(ip)
	metrics.WebSocketConnectionDuration.Observe(time.Since(connectedAt).Seconds())
	slog.Info("User disconnected", "user", identity.Key(), "connection_id", connID.String())

	return nil
}

func (s *Server) release(ip string) {
	s.limits.Release(ip)
	s.updateCapacityMetrics()
}

func (s *Server) updateCapacityMetrics() {
	metrics.WebSocketConnectionCapacity.Set(s.limits.Global().CapacityPct())
	metrics.WebSocketUniqueIPs.Set(float64(s.limits.PerIP().UniqueIPs()))
}
