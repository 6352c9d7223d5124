package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// CreateMessageRequest is the body of POST /v1/messages.
type CreateMessageRequest struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}

// UpdateMessageRequest is the body of PATCH /v1/messages.
type UpdateMessageRequest struct {
	MessageID int64  `json:"messageId"`
	Content   string `json:"content"`
}

// CreateMessage stores a message and hands it to delivery.
// POST /v1/messages
func (h *Handler) CreateMessage(c echo.Context) error {
	var req CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	msg, err := h.service.CreateMessage(c.Request().Context(), caller(c), req.ConversationID, req.Content)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// GetMessages returns the history of a conversation, newest first.
// GET /v1/messages/:conversation_id
func (h *Handler) GetMessages(c echo.Context) error {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		return badRequest(c, "invalid conversation id")
	}
	var limit int
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	var before int64
	if b := c.QueryParam("before"); b != "" {
		if val, err := strconv.ParseInt(b, 10, 64); err == nil {
			before = val
		}
	}

	page, err := h.service.GetMessages(c.Request().Context(), caller(c), conversationID, limit, before)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// UpdateMessage edits one of the caller's messages.
// PATCH /v1/messages
func (h *Handler) UpdateMessage(c echo.Context) error {
	var req UpdateMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.MessageID <= 0 {
		return badRequest(c, "messageId is required")
	}

	msg, err := h.service.UpdateMessage(c.Request().Context(), caller(c), req.MessageID, req.Content)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}
