package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"imovia/internal/conversation"
	"imovia/internal/repo"
	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// ConversationHandler exposes the portal's conversation endpoints
type ConversationHandler struct {
	conversations *repo.ConversationRepository
	users         *repo.UserRepository
	engine        *conversation.Engine
	ws            *WebSocketHandler
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations *repo.ConversationRepository, users *repo.UserRepository, engine *conversation.Engine, ws *WebSocketHandler) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		users:         users,
		engine:        engine,
		ws:            ws,
	}
}

// scope returns the agent filter for the current user: agents see their own
// conversations, admins see everything
func scope(c echo.Context) (*uuid.UUID, bool) {
	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		return nil, false
	}
	if role, _ := c.Get("user_role").(string); role == models.UserRoleAdmin {
		return nil, true
	}
	return &userID, true
}

func pagination(c echo.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// List lists conversations ordered by recent activity
func (h *ConversationHandler) List(c echo.Context) error {
	agentID, ok := scope(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	limit, offset := pagination(c)
	result, err := h.conversations.List(agentID, c.QueryParam("status"), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list conversations", Category: "retryable"})
	}

	for i := range result.Data {
		h.ws.TrackConversation(result.Data[i].ID, result.Data[i].AgentID)
	}

	return c.JSON(http.StatusOK, result)
}

// GetByID returns one conversation with its message history
func (h *ConversationHandler) GetByID(c echo.Context) error {
	conv := h.load(c)
	if conv == nil {
		return nil
	}

	messages, err := h.conversations.History(conv.ID, 0)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to load messages", Category: "retryable"})
	}

	h.ws.TrackConversation(conv.ID, conv.AgentID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation": conv,
		"messages":     messages,
	})
}

// Takeover switches the conversation to human handling
func (h *ConversationHandler) Takeover(c echo.Context) error {
	conv := h.load(c)
	if conv == nil {
		return nil
	}

	if err := h.engine.Takeover(conv.ID); err != nil {
		if errors.Is(err, conversation.ErrConversationClosed) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Conversation is closed", Category: "invariant"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Takeover failed", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.ConversationWaitingAgent})
}

// SendMessage delivers an agent message to the customer
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	conv := h.load(c)
	if conv == nil {
		return nil
	}

	var req struct {
		Content string `json:"content" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	senderName := ""
	if userID, ok := c.Get("user_id").(uuid.UUID); ok {
		if user, err := h.users.GetByID(userID); err == nil {
			senderName = user.Name
		}
	}

	msg, err := h.engine.SendAgentMessage(c.Request().Context(), conv.ID, senderName, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrConversationClosed):
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Conversation is closed", Category: "invariant"})
		case errors.Is(err, conversation.ErrNotWaitingAgent):
			return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Take over the conversation before sending messages", Category: "invariant"})
		default:
			return c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "Failed to deliver message", Category: "retryable"})
		}
	}

	return c.JSON(http.StatusCreated, msg)
}

// Close terminates a conversation. Closing twice is a no-op.
func (h *ConversationHandler) Close(c echo.Context) error {
	conv := h.load(c)
	if conv == nil {
		return nil
	}

	var req struct {
		Notes string `json:"notes"`
	}
	c.Bind(&req)

	if err := h.engine.Close(conv.ID, req.Notes); err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Close failed", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.ConversationClosed})
}

// Delete removes a conversation and its messages
func (h *ConversationHandler) Delete(c echo.Context) error {
	conv := h.load(c)
	if conv == nil {
		return nil
	}

	if err := h.conversations.Delete(conv.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Conversation not found", Category: "boundary"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Delete failed", Category: "retryable"})
	}

	return c.NoContent(http.StatusNoContent)
}

// load resolves the :id conversation and enforces agent scoping. When it
// returns nil, the response has already been written.
func (h *ConversationHandler) load(c echo.Context) *models.Conversation {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid conversation id", Category: "boundary"})
		return nil
	}

	conv, err := h.conversations.ByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Conversation not found", Category: "boundary"})
		} else {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Lookup failed", Category: "retryable"})
		}
		return nil
	}

	agentID, ok := scope(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
		return nil
	}
	if agentID != nil && conv.AgentID != *agentID {
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Not your conversation", Category: "boundary"})
		return nil
	}

	return conv
}
