package scheduling

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lead score awarded when a viewing is booked
const bookingLeadBonus = 10

// Sentinel errors mapped by the HTTP layer
var (
	ErrNoAvailability      = errors.New("agent has no availability configured")
	ErrOutsideAvailability = errors.New("requested time is outside the agent's availability")
	ErrSlotTaken           = errors.New("requested time conflicts with another viewing")
	ErrViewingFinalized    = errors.New("viewing is cancelled or completed")
)

// Store is the calendar persistence behind the engine
type Store interface {
	Availability(agentID uuid.UUID) (*models.AgentAvailability, error)
	ReplaceAvailability(av *models.AgentAvailability) error
	ActiveViewings(agentID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]models.ScheduledViewing, error)
	Book(v *models.ScheduledViewing, validate func(busy []models.ScheduledViewing) error) error
	Reschedule(id, agentID uuid.UUID, newTime time.Time, validate func(current *models.ScheduledViewing, busy []models.ScheduledViewing) error) (*models.ScheduledViewing, error)
	ViewingByID(id, agentID uuid.UUID) (*models.ScheduledViewing, error)
	UpdateViewingStatus(id, agentID uuid.UUID, status, notes string) error
	ListViewings(agentID uuid.UUID, limit, offset int) (models.PaginationResult[models.ScheduledViewing], error)
	PropertyByID(id uuid.UUID) (*models.Property, error)
}

// LeadScorer bumps a conversation's lead score on calendar events
type LeadScorer interface {
	AddLeadScore(conversationID uuid.UUID, delta int) error
}

// Mailer sends viewing confirmations. Failures are logged, never propagated:
// the booking already committed.
type Mailer interface {
	SendViewingConfirmation(ctx context.Context, v *models.ScheduledViewing) error
}

// Notifier pushes calendar events to connected portal clients
type Notifier interface {
	NotifyAgent(agentID uuid.UUID, event string, payload interface{})
}

// BookRequest describes a viewing to book
type BookRequest struct {
	AgentID         uuid.UUID
	PropertyID      uuid.UUID
	ConversationID  uuid.UUID
	CustomerAddress string
	ScheduledTime   time.Time
	Notes           string
}

// Engine owns the viewing calendar: availability, free slot computation and
// the booking lifecycle. All booking writes revalidate inside the store's
// per-agent transaction, so the free slots returned earlier are advisory and
// a stale booking request fails cleanly instead of double-booking.
type Engine struct {
	store  Store
	leads  LeadScorer
	mailer Mailer
	notify Notifier
	logger zerolog.Logger
}

// NewEngine creates a scheduling engine. leads, mailer and notify may be nil.
func NewEngine(store Store, leads LeadScorer, mailer Mailer, notify Notifier, logger zerolog.Logger) *Engine {
	return &Engine{store: store, leads: leads, mailer: mailer, notify: notify, logger: logger}
}

// SetNotifier attaches the portal event push. Call before serving traffic.
func (e *Engine) SetNotifier(n Notifier) {
	e.notify = n
}

// ReplaceAvailability swaps the agent's weekly availability wholesale.
// Existing viewings are untouched, even when they no longer fall inside a
// window: cancelling them is the agent's call, not the system's.
func (e *Engine) ReplaceAvailability(av *models.AgentAvailability) error {
	if _, err := time.LoadLocation(av.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", av.Timezone, err)
	}
	for _, w := range av.Windows {
		sh, sm, err := parseClock(w.StartTime)
		if err != nil {
			return fmt.Errorf("window start %q: %w", w.StartTime, err)
		}
		eh, em, err := parseClock(w.EndTime)
		if err != nil {
			return fmt.Errorf("window end %q: %w", w.EndTime, err)
		}
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week %d out of range", w.DayOfWeek)
		}
		if eh*60+em <= sh*60+sm {
			return fmt.Errorf("window %s-%s is empty", w.StartTime, w.EndTime)
		}
	}
	return e.store.ReplaceAvailability(av)
}

// AvailableSlots lazily yields the agent's free slots with starts in [from, to)
func (e *Engine) AvailableSlots(agentID uuid.UUID, from, to time.Time) (iter.Seq[Slot], error) {
	av, err := e.store.Availability(agentID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, ErrNoAvailability
	}

	busy, err := e.store.ActiveViewings(agentID, from, to, nil)
	if err != nil {
		return nil, err
	}
	return Slots(av, busy, from, to)
}

// Book books a viewing at the requested time. The time must fall inside a
// weekly window and clear of other viewings plus buffer; conflicts surface as
// ErrSlotTaken even when the caller just saw the slot as free.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*models.ScheduledViewing, error) {
	av, err := e.store.Availability(req.AgentID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, ErrNoAvailability
	}

	if _, err := e.store.PropertyByID(req.PropertyID); err != nil {
		return nil, fmt.Errorf("property lookup: %w", err)
	}

	viewing := &models.ScheduledViewing{
		ConversationID:  req.ConversationID,
		PropertyID:      req.PropertyID,
		AgentID:         req.AgentID,
		CustomerAddress: req.CustomerAddress,
		ScheduledTime:   req.ScheduledTime,
		DurationMinutes: av.ViewingDurationMinutes,
		Notes:           req.Notes,
	}

	if err := e.validatePlacement(av, viewing.ScheduledTime, viewing.End()); err != nil {
		return nil, err
	}

	err = e.store.Book(viewing, func(busy []models.ScheduledViewing) error {
		return checkConflicts(av, busy, viewing.ScheduledTime, viewing.End())
	})
	if err != nil {
		return nil, err
	}

	e.afterBooking(ctx, viewing, "viewing_booked")
	if e.leads != nil && viewing.ConversationID != uuid.Nil {
		if err := e.leads.AddLeadScore(viewing.ConversationID, bookingLeadBonus); err != nil {
			e.logger.Error().Err(err).
				Str("conversation_id", viewing.ConversationID.String()).
				Msg("failed to bump lead score after booking")
		}
	}
	return viewing, nil
}

// Reschedule moves a viewing to a new time under the same validation as Book.
// Only scheduled or confirmed viewings can move; cancelled and completed ones
// are final.
func (e *Engine) Reschedule(ctx context.Context, id, agentID uuid.UUID, newTime time.Time) (*models.ScheduledViewing, error) {
	av, err := e.store.Availability(agentID)
	if err != nil {
		return nil, err
	}
	if av == nil {
		return nil, ErrNoAvailability
	}

	current, err := e.store.ViewingByID(id, agentID)
	if err != nil {
		return nil, err
	}
	if viewingFinalized(current.Status) {
		return nil, ErrViewingFinalized
	}
	newEnd := newTime.Add(time.Duration(current.DurationMinutes) * time.Minute)
	if err := e.validatePlacement(av, newTime, newEnd); err != nil {
		return nil, err
	}

	moved, err := e.store.Reschedule(id, agentID, newTime, func(current *models.ScheduledViewing, busy []models.ScheduledViewing) error {
		// Re-checked inside the store transaction: a cancel racing the
		// reschedule must win
		if viewingFinalized(current.Status) {
			return ErrViewingFinalized
		}
		return checkConflicts(av, busy, newTime, newEnd)
	})
	if err != nil {
		return nil, err
	}

	e.afterBooking(ctx, moved, "viewing_rescheduled")
	return moved, nil
}

// Cancel marks a viewing cancelled, freeing its slot. Cancelling an already
// cancelled viewing is a no-op.
func (e *Engine) Cancel(id, agentID uuid.UUID, notes string) error {
	if err := e.store.UpdateViewingStatus(id, agentID, models.ViewingCancelled, notes); err != nil {
		return err
	}
	if e.notify != nil {
		e.notify.NotifyAgent(agentID, "viewing_cancelled", map[string]string{"viewing_id": id.String()})
	}
	return nil
}

// Viewing returns one viewing scoped to its agent
func (e *Engine) Viewing(id, agentID uuid.UUID) (*models.ScheduledViewing, error) {
	return e.store.ViewingByID(id, agentID)
}

// Viewings lists the agent's viewings newest first
func (e *Engine) Viewings(agentID uuid.UUID, limit, offset int) (models.PaginationResult[models.ScheduledViewing], error) {
	return e.store.ListViewings(agentID, limit, offset)
}

// Availability returns the agent's configured availability, nil when unset
func (e *Engine) Availability(agentID uuid.UUID) (*models.AgentAvailability, error) {
	return e.store.Availability(agentID)
}

// validatePlacement checks the interval falls wholly inside a weekly window
func (e *Engine) validatePlacement(av *models.AgentAvailability, start, end time.Time) error {
	loc, err := time.LoadLocation(av.Timezone)
	if err != nil {
		return fmt.Errorf("availability timezone %q: %w", av.Timezone, err)
	}
	start = start.In(loc)
	end = end.In(loc)

	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	for _, w := range av.Windows {
		if w.DayOfWeek != int(day.Weekday()) {
			continue
		}
		winStart := atClock(day, w.StartTime)
		winEnd := atClock(day, w.EndTime)
		if !start.Before(winStart) && !end.After(winEnd) {
			return nil
		}
	}
	return ErrOutsideAvailability
}

// viewingFinalized reports whether the viewing left the reschedulable states
func viewingFinalized(status string) bool {
	return status == models.ViewingCancelled || status == models.ViewingCompleted
}

// checkConflicts rejects the interval when it touches any blocking viewing
// expanded by the buffer. Runs inside the store's booking transaction.
func checkConflicts(av *models.AgentAvailability, busy []models.ScheduledViewing, start, end time.Time) error {
	blocked := expand(busy, time.Duration(av.BufferMinutes)*time.Minute)
	if overlapsAny(blocked, start, end) {
		return ErrSlotTaken
	}
	return nil
}

func (e *Engine) afterBooking(ctx context.Context, v *models.ScheduledViewing, event string) {
	if e.notify != nil {
		e.notify.NotifyAgent(v.AgentID, event, v)
	}
	if e.mailer != nil {
		if err := e.mailer.SendViewingConfirmation(ctx, v); err != nil {
			e.logger.Error().Err(err).
				Str("viewing_id", v.ID.String()).
				Msg("failed to send viewing confirmation email")
		}
	}
}
