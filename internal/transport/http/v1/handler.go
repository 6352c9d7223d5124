// Package v1 provides the public REST API of the gateway.
package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatline/gateway/internal/auth"
	"github.com/chatline/gateway/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	verifier auth.TokenVerifier
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, verifier auth.TokenVerifier) *Handler {
	return &Handler{
		service:  service,
		verifier: verifier,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1", auth.Middleware(h.verifier))

	// Messages
	g.POST("/messages", h.CreateMessage)
	g.PATCH("/messages", h.UpdateMessage)
	g.GET("/messages/:conversation_id", h.GetMessages)

	// Users and conversations
	g.GET("/users/:id", h.GetUser)
	g.GET("/conversations", h.GetConversations)
	g.GET("/conversations/:id", h.GetConversation)
	g.POST("/conversations", h.CreateConversation)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorResponse maps service errors to status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		status = http.StatusNotFound
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func caller(c echo.Context) int64 {
	id, _ := auth.UserID(c)
	return id
}
