package handlers

import (
	"errors"
	"net/http"

	"imovia/internal/repo"
	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// QueueHandler exposes the dead-letter management endpoints
type QueueHandler struct {
	queue *repo.QueueRepository
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(queue *repo.QueueRepository) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// ListDeadLetters lists dead-lettered jobs newest first
func (h *QueueHandler) ListDeadLetters(c echo.Context) error {
	limit, offset := pagination(c)
	result, err := h.queue.ListDeadLetters(limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list dead letters", Category: "retryable"})
	}
	return c.JSON(http.StatusOK, result)
}

// RetryDeadLetter moves a dead-lettered job back onto the queue
func (h *QueueHandler) RetryDeadLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid dead letter id", Category: "boundary"})
	}

	if err := h.queue.RetryDeadLetter(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Dead letter not found", Category: "boundary"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Retry failed", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "requeued"})
}

// Depth reports the current queue depth
func (h *QueueHandler) Depth(c echo.Context) error {
	depth, err := h.queue.PendingCount()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to read queue depth", Category: "retryable"})
	}
	return c.JSON(http.StatusOK, map[string]int64{"depth": depth})
}
