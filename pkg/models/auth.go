package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel is the base model for all persisted entities
type BaseModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// BeforeCreate hook to generate UUID if not set
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// User roles
const (
	UserRoleAdmin = "admin"
	UserRoleAgent = "agent"
)

// User represents an agency user (admin or agent)
type User struct {
	BaseModel
	Email    string `gorm:"uniqueIndex;not null" json:"email" validate:"required,email"`
	Password string `gorm:"not null" json:"-"`
	Name     string `gorm:"not null" json:"name" validate:"required"`
	Role     string `gorm:"default:'agent'" json:"role"` // admin, agent

	// PersonalPhone is the agent's own WhatsApp number. Messages arriving from
	// this number cannot be attributed to a specific conversation, so the
	// normalizer logs and drops them instead of queueing.
	PersonalPhone string `gorm:"index" json:"personal_phone"`

	// BusinessNumber is the WhatsApp business number customers write to.
	// Inbound messages are routed to the agent owning the destination number.
	BusinessNumber string `gorm:"index" json:"business_number"`

	IsDefault   bool       `gorm:"default:false" json:"is_default"` // fallback agent for unmatched destination numbers
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// UpdateProfileRequest represents profile update request data
type UpdateProfileRequest struct {
	Name           string `json:"name" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	PersonalPhone  string `json:"personal_phone"`
	BusinessNumber string `json:"business_number"`
}
