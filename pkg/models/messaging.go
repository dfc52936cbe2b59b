package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation statuses
const (
	ConversationActive       = "active"
	ConversationIdle         = "idle"
	ConversationWaitingAgent = "waiting_agent"
	ConversationClosed       = "closed"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleAgent     = "agent"
)

// Message kinds, resolved once by the webhook normalizer
const (
	KindText        = "text"
	KindImage       = "image"
	KindVideo       = "video"
	KindDocument    = "document"
	KindAudio       = "audio"
	KindLocation    = "location"
	KindInteractive = "interactive"
)

// Conversation represents a conversation between a customer and an agent.
// At most one non-closed conversation exists per (agent_id, customer_address)
// pair, enforced by a partial unique index created in internal/db.
type Conversation struct {
	BaseModel
	AgentID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"agent_id"`
	CustomerAddress string     `gorm:"not null;index" json:"customer_address"`
	CustomerName    string     `json:"customer_name,omitempty"`
	Status          string     `gorm:"default:'active';index" json:"status"` // active, idle, waiting_agent, closed
	LeadScore       int        `gorm:"default:0" json:"lead_score"`
	LeadQuality     string     `json:"lead_quality,omitempty"` // cold, warm, hot
	Notes           string     `gorm:"type:text" json:"notes,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `gorm:"index" json:"last_activity_at"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`

	// Relations
	Agent *User `gorm:"foreignKey:AgentID" json:"agent,omitempty"`
}

// Message represents a persisted message in a conversation. Append-only,
// ordered by created_at then insertion order.
type Message struct {
	BaseModel
	ConversationID uuid.UUID `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Role           string    `gorm:"not null" json:"role"`                // user, assistant, agent
	Kind           string    `gorm:"not null;default:'text'" json:"kind"` // text, image, video, document, audio, location, interactive
	Content        string    `gorm:"type:text" json:"content"`
	MediaRef       string    `json:"media_ref,omitempty"`
	ExternalID     string    `gorm:"index" json:"external_id,omitempty"` // platform message id; unique for user messages (partial index)
	SenderName     string    `json:"sender_name,omitempty"`              // set for agent messages
	DeliveryID     string    `json:"delivery_id,omitempty"`              // gateway id for outbound messages

	// Relations
	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

// InboundMessage is the canonical envelope produced by the webhook
// normalizer and carried through the work queue. Immutable once created.
type InboundMessage struct {
	ExternalID  string    `json:"external_id"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	SenderName  string    `json:"sender_name,omitempty"`
	Kind        string    `json:"kind"`
	Body        string    `json:"body,omitempty"`
	MediaRef    string    `json:"media_ref,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// ChatTurn is one history entry handed to the AI responder
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
