package models

import (
	"time"

	"github.com/google/uuid"
)

// Viewing statuses
const (
	ViewingScheduled = "scheduled"
	ViewingConfirmed = "confirmed"
	ViewingCancelled = "cancelled"
	ViewingCompleted = "completed"
	ViewingNoShow    = "no_show"
)

// Property represents a listing a viewing can be booked for
type Property struct {
	BaseModel
	AgentID     uuid.UUID `gorm:"type:uuid;not null;index" json:"agent_id"`
	Title       string    `gorm:"not null" json:"title" validate:"required"`
	Address     string    `gorm:"not null" json:"address" validate:"required"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
}

// AgentAvailability holds an agent's recurring weekly availability.
// Replaced wholesale on update, never merged per-window.
type AgentAvailability struct {
	BaseModel
	AgentID                uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"agent_id"`
	Timezone               string    `gorm:"not null;default:'America/Sao_Paulo'" json:"timezone"`
	BufferMinutes          int       `gorm:"default:30" json:"buffer_minutes"`
	ViewingDurationMinutes int       `gorm:"default:60" json:"viewing_duration_minutes"`

	// Relations
	Windows []AvailabilityWindow `gorm:"foreignKey:AvailabilityID;constraint:OnDelete:CASCADE" json:"windows"`
}

// AvailabilityWindow is one recurring weekly window (e.g. Mon 09:00-17:00)
type AvailabilityWindow struct {
	BaseModel
	AvailabilityID uuid.UUID `gorm:"type:uuid;not null;index" json:"availability_id"`
	DayOfWeek      int       `gorm:"not null" json:"day_of_week"` // 0 = Sunday .. 6 = Saturday
	StartTime      string    `gorm:"not null" json:"start_time"`  // "09:00"
	EndTime        string    `gorm:"not null" json:"end_time"`    // "17:00"
}

// ScheduledViewing represents a booked in-person viewing. Owned by the agent
// calendar: the conversation id is a plain reference with no cascade, so past
// viewings survive conversation deletion.
type ScheduledViewing struct {
	BaseModel
	ConversationID  uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	PropertyID      uuid.UUID `gorm:"type:uuid;not null;index" json:"property_id"`
	AgentID         uuid.UUID `gorm:"type:uuid;not null;index" json:"agent_id"`
	CustomerAddress string    `gorm:"not null" json:"customer_address"`
	ScheduledTime   time.Time `gorm:"not null;index" json:"scheduled_time"`
	DurationMinutes int       `gorm:"not null" json:"duration_minutes"`
	Status          string    `gorm:"default:'scheduled';index" json:"status"`
	Notes           string    `gorm:"type:text" json:"notes,omitempty"`

	// Relations
	Property *Property `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
	Agent    *User     `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// End returns the end of the viewing interval
func (v *ScheduledViewing) End() time.Time {
	return v.ScheduledTime.Add(time.Duration(v.DurationMinutes) * time.Minute)
}

// Blocks reports whether the viewing still occupies calendar time
func (v *ScheduledViewing) Blocks() bool {
	return v.Status != ViewingCancelled
}
