package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	RecipientID int64 `json:"recipientId"`
}

// GetUser returns a user profile.
// GET /v1/users/:id
func (h *Handler) GetUser(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid user id")
	}
	u, err := h.service.GetUser(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// CreateConversation opens, or returns, the caller's conversation with a recipient.
// POST /v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	conv, created, err := h.service.CreateConversation(c.Request().Context(), caller(c), req.RecipientID)
	if err != nil {
		return errorResponse(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, conv)
}

// GetConversations lists the caller's conversations, most recently active first.
// GET /v1/conversations
func (h *Handler) GetConversations(c echo.Context) error {
	conversations, err := h.service.GetConversations(c.Request().Context(), caller(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": conversations,
	})
}

// GetConversation returns one of the caller's conversations.
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid conversation id")
	}
	conv, err := h.service.GetConversation(c.Request().Context(), caller(c), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, conv)
}
