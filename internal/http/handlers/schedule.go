package handlers

import (
	"errors"
	"net/http"
	"time"

	"imovia/internal/repo"
	"imovia/internal/scheduling"
	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// Slot listings are capped so an open-ended range cannot stream forever
const maxSlotResults = 200

// ScheduleHandler exposes the viewing calendar endpoints
type ScheduleHandler struct {
	engine *scheduling.Engine
	repo   *repo.SchedulingRepository
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(engine *scheduling.Engine, schedulingRepo *repo.SchedulingRepository) *ScheduleHandler {
	return &ScheduleHandler{engine: engine, repo: schedulingRepo}
}

// agentID resolves the acting agent: the caller's own id, or an explicit
// agent_id query parameter for admins
func (h *ScheduleHandler) agentID(c echo.Context) (uuid.UUID, bool) {
	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, false
	}
	if role, _ := c.Get("user_role").(string); role == models.UserRoleAdmin {
		if param := c.QueryParam("agent_id"); param != "" {
			if id, err := uuid.Parse(param); err == nil {
				return id, true
			}
		}
	}
	return userID, true
}

type availabilityRequest struct {
	Timezone               string `json:"timezone" validate:"required"`
	BufferMinutes          int    `json:"buffer_minutes" validate:"min=0,max=240"`
	ViewingDurationMinutes int    `json:"viewing_duration_minutes" validate:"required,min=15,max=480"`
	Windows                []struct {
		DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
		StartTime string `json:"start_time" validate:"required"`
		EndTime   string `json:"end_time" validate:"required"`
	} `json:"windows" validate:"required,min=1,dive"`
}

// SetAvailability replaces the agent's weekly availability
func (h *ScheduleHandler) SetAvailability(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	av := &models.AgentAvailability{
		AgentID:                agentID,
		Timezone:               req.Timezone,
		BufferMinutes:          req.BufferMinutes,
		ViewingDurationMinutes: req.ViewingDurationMinutes,
	}
	for _, w := range req.Windows {
		av.Windows = append(av.Windows, models.AvailabilityWindow{
			DayOfWeek: w.DayOfWeek,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
		})
	}

	if err := h.engine.ReplaceAvailability(av); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	return c.JSON(http.StatusOK, av)
}

// GetAvailability returns the agent's configured availability
func (h *ScheduleHandler) GetAvailability(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	av, err := h.engine.Availability(agentID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Lookup failed", Category: "retryable"})
	}
	if av == nil {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "No availability configured", Category: "boundary"})
	}

	return c.JSON(http.StatusOK, av)
}

// GetSlots lists free viewing slots between from and to (RFC 3339).
// Defaults to the next 7 days.
func (h *ScheduleHandler) GetSlots(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	from := time.Now()
	if param := c.QueryParam("from"); param != "" {
		parsed, err := time.Parse(time.RFC3339, param)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid from timestamp", Category: "boundary"})
		}
		from = parsed
	}
	to := from.AddDate(0, 0, 7)
	if param := c.QueryParam("to"); param != "" {
		parsed, err := time.Parse(time.RFC3339, param)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid to timestamp", Category: "boundary"})
		}
		to = parsed
	}
	if !to.After(from) {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "to must be after from", Category: "boundary"})
	}

	seq, err := h.engine.AvailableSlots(agentID, from, to)
	if err != nil {
		if errors.Is(err, scheduling.ErrNoAvailability) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "No availability configured", Category: "boundary"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Slot computation failed", Category: "retryable"})
	}

	slots := make([]scheduling.Slot, 0, 32)
	for s := range seq {
		slots = append(slots, s)
		if len(slots) == maxSlotResults {
			break
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"slots": slots,
		"from":  from,
		"to":    to,
	})
}

type bookRequest struct {
	PropertyID      uuid.UUID `json:"property_id" validate:"required"`
	ConversationID  uuid.UUID `json:"conversation_id"`
	CustomerAddress string    `json:"customer_address" validate:"required"`
	ScheduledTime   time.Time `json:"scheduled_time" validate:"required"`
	Notes           string    `json:"notes"`
}

// Book books a viewing
func (h *ScheduleHandler) Book(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	viewing, err := h.engine.Book(c.Request().Context(), scheduling.BookRequest{
		AgentID:         agentID,
		PropertyID:      req.PropertyID,
		ConversationID:  req.ConversationID,
		CustomerAddress: req.CustomerAddress,
		ScheduledTime:   req.ScheduledTime,
		Notes:           req.Notes,
	})
	if err != nil {
		return h.bookingError(c, err)
	}

	return c.JSON(http.StatusCreated, viewing)
}

// Reschedule moves a viewing to a new time
func (h *ScheduleHandler) Reschedule(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid viewing id", Category: "boundary"})
	}

	var req struct {
		ScheduledTime time.Time `json:"scheduled_time" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	viewing, err := h.engine.Reschedule(c.Request().Context(), id, agentID, req.ScheduledTime)
	if err != nil {
		return h.bookingError(c, err)
	}

	return c.JSON(http.StatusOK, viewing)
}

// Cancel cancels a viewing, freeing its slot
func (h *ScheduleHandler) Cancel(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid viewing id", Category: "boundary"})
	}

	if err := h.engine.Cancel(id, agentID, c.QueryParam("notes")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Viewing not found", Category: "boundary"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Cancel failed", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": models.ViewingCancelled})
}

// ListViewings lists the agent's viewings
func (h *ScheduleHandler) ListViewings(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	limit, offset := pagination(c)
	result, err := h.engine.Viewings(agentID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list viewings", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, result)
}

// GetViewing returns one viewing
func (h *ScheduleHandler) GetViewing(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid viewing id", Category: "boundary"})
	}

	viewing, err := h.engine.Viewing(id, agentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Viewing not found", Category: "boundary"})
		}
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Lookup failed", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, viewing)
}

// CreateProperty creates a listing viewings can be booked for
func (h *ScheduleHandler) CreateProperty(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	var p models.Property
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&p); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	p.ID = uuid.Nil
	p.AgentID = agentID
	p.IsActive = true
	if err := h.repo.CreateProperty(&p); err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create property", Category: "retryable"})
	}

	return c.JSON(http.StatusCreated, p)
}

// ListProperties lists the agent's active properties
func (h *ScheduleHandler) ListProperties(c echo.Context) error {
	agentID, ok := h.agentID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	limit, offset := pagination(c)
	properties, err := h.repo.ListProperties(agentID, limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list properties", Category: "retryable"})
	}

	return c.JSON(http.StatusOK, properties)
}

// bookingError maps engine errors to the portal's error taxonomy
func (h *ScheduleHandler) bookingError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, scheduling.ErrNoAvailability):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Configure availability before booking", Category: "invariant"})
	case errors.Is(err, scheduling.ErrOutsideAvailability):
		return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "Requested time is outside availability", Category: "invariant"})
	case errors.Is(err, scheduling.ErrSlotTaken):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Slot no longer available", Category: "invariant"})
	case errors.Is(err, scheduling.ErrViewingFinalized):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Error: "Viewing is cancelled or completed", Category: "invariant"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not found", Category: "boundary"})
	default:
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Booking failed", Category: "retryable"})
	}
}
