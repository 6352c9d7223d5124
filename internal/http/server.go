// Package http provides the internal HTTP server for the gateway.
package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/chatline/gateway/internal/domain"
	"github.com/chatline/gateway/internal/events"
	"github.com/chatline/gateway/internal/hub"
	"github.com/chatline/gateway/internal/metrics"
)

// Server is the internal HTTP server for the gateway.
type Server struct {
	echo      *echo.Echo
	registry  *hub.Registry
	publisher events.Publisher
	gatewayID string
}

// NewServer creates a new internal HTTP server.
func NewServer(gatewayID string, registry *hub.Registry, publisher events.Publisher, m *metrics.Collectors, log *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(RequestLogger(log))
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		registry:  registry,
		publisher: publisher,
		gatewayID: gatewayID,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	e.GET("/internal/sessions", s.handleSessions)
	e.POST("/internal/messages", s.handlePublish)

	return s
}

// RequestLogger logs one line per request through zap.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Debug("Request", fields...)
			return nil
		},
	})
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"gateway_id":  s.gatewayID,
		"connections": s.registry.Len(),
	})
}

// Session is one row of GET /internal/sessions.
type Session struct {
	UserID       int64  `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// handleSessions lists the registered users and their connection ids.
func (s *Server) handleSessions(c echo.Context) error {
	sessions := lo.Map(s.registry.Snapshot(), func(e hub.Entry, _ int) Session {
		return Session{UserID: e.UserID, ConnectionID: e.Handle.ID()}
	})
	return c.JSON(http.StatusOK, map[string]interface{}{
		"gateway_id": s.gatewayID,
		"sessions":   sessions,
	})
}

// PublishResponse represents the response for POST /internal/messages.
type PublishResponse struct {
	OK bool `json:"ok"`
}

// handlePublish queues a message-created event posted by another service.
func (s *Server) handlePublish(c echo.Context) error {
	var evt domain.MessageEvent
	if err := c.Bind(&evt); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := evt.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := s.publisher.Publish(c.Request().Context(), evt); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusAccepted, PublishResponse{OK: true})
}
