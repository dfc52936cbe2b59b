package repo

import (
	"errors"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lead score thresholds for quality classification
const (
	leadWarmScore = 15
	leadHotScore  = 40
)

// ConversationRepository handles conversation and message data access
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// ByID gets a conversation by ID
func (r *ConversationRepository) ByID(id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.Preload("Agent").Where("id = ?", id).First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindOrCreate returns the open conversation for (agent, customer address),
// creating one in active status when none exists. The partial unique index
// makes concurrent creates race-safe: the loser re-reads the winner's row.
func (r *ConversationRepository) FindOrCreate(agentID uuid.UUID, customerAddress, customerName string) (*models.Conversation, error) {
	find := func() (*models.Conversation, error) {
		var conv models.Conversation
		err := r.db.Where("agent_id = ? AND customer_address = ? AND status != ?",
			agentID, customerAddress, models.ConversationClosed).First(&conv).Error
		if err != nil {
			return nil, err
		}
		return &conv, nil
	}

	conv, err := find()
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	created := models.Conversation{
		AgentID:         agentID,
		CustomerAddress: customerAddress,
		CustomerName:    customerName,
		Status:          models.ConversationActive,
		LeadQuality:     "cold",
		StartedAt:       now,
		LastActivityAt:  now,
	}
	if err := r.db.Create(&created).Error; err != nil {
		// Unique index violation means another worker created it first
		if conv, findErr := find(); findErr == nil {
			return conv, nil
		}
		return nil, err
	}
	return &created, nil
}

// AppendInbound appends a user message exactly once per external id and bumps
// the conversation's activity timestamp and lead score. Returns false without
// error when the message was already appended (queue retry after a responder
// failure, or duplicate webhook delivery that slipped past the dedup gate).
func (r *ConversationRepository) AppendInbound(conversationID uuid.UUID, m *models.Message) (bool, error) {
	appended := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if m.ExternalID != "" {
			var count int64
			if err := tx.Model(&models.Message{}).
				Where("external_id = ? AND role = ?", m.ExternalID, models.RoleUser).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
		}

		m.ConversationID = conversationID
		m.Role = models.RoleUser
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		appended = true

		return bumpLead(tx, conversationID, 1)
	})
	return appended, err
}

// AppendOutbound appends an assistant or agent message and bumps activity
func (r *ConversationRepository) AppendOutbound(conversationID uuid.UUID, m *models.Message) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		m.ConversationID = conversationID
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("last_activity_at", time.Now()).Error
	})
}

// bumpLead raises the lead score and recomputes quality in one statement
func bumpLead(tx *gorm.DB, conversationID uuid.UUID, delta int) error {
	return tx.Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_activity_at": time.Now(),
			"lead_score":       gorm.Expr("lead_score + ?", delta),
			"lead_quality": gorm.Expr(
				"CASE WHEN lead_score + ? >= ? THEN 'hot' WHEN lead_score + ? >= ? THEN 'warm' ELSE 'cold' END",
				delta, leadHotScore, delta, leadWarmScore),
		}).Error
}

// AddLeadScore raises the lead score outside an inbound append (e.g. when a
// viewing is requested or booked)
func (r *ConversationRepository) AddLeadScore(conversationID uuid.UUID, delta int) error {
	return bumpLead(r.db, conversationID, delta)
}

// History returns the conversation's messages in chronological order
func (r *ConversationRepository) History(conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&messages).Error
	return messages, err
}

// ExternalIDSeen reports whether a platform message id was already persisted
func (r *ConversationRepository) ExternalIDSeen(externalID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Message{}).
		Where("external_id = ? AND role = ?", externalID, models.RoleUser).
		Count(&count).Error
	return count > 0, err
}

// TransitionStatus conditionally moves a conversation between statuses.
// Returns true when the row transitioned, false when the current status was
// not in from. The conditional update serializes transitions without an
// application-level lock.
func (r *ConversationRepository) TransitionStatus(id uuid.UUID, from []string, to string) (bool, error) {
	result := r.db.Model(&models.Conversation{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Close terminates a conversation. Returns true when it closed now, false
// when it was already closed (idempotent no-op).
func (r *ConversationRepository) Close(id uuid.UUID, notes string) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":    models.ConversationClosed,
		"closed_at": now,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	result := r.db.Model(&models.Conversation{}).
		Where("id = ? AND status != ?", id, models.ConversationClosed).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SweepIdle flips active conversations with no activity since cutoff to idle
func (r *ConversationRepository) SweepIdle(cutoff time.Time) (int64, error) {
	result := r.db.Model(&models.Conversation{}).
		Where("status = ? AND last_activity_at < ?", models.ConversationActive, cutoff).
		Update("status", models.ConversationIdle)
	return result.RowsAffected, result.Error
}

// List lists conversations ordered by recent activity, optionally filtered
// by agent and status
func (r *ConversationRepository) List(agentID *uuid.UUID, status string, limit, offset int) (models.PaginationResult[models.Conversation], error) {
	var conversations []models.Conversation
	var total int64

	query := r.db.Model(&models.Conversation{})
	if agentID != nil {
		query = query.Where("agent_id = ?", *agentID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return models.PaginationResult[models.Conversation]{}, err
	}

	err := query.Preload("Agent", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "name", "email")
	}).Order("last_activity_at DESC").
		Limit(limit).Offset(offset).
		Find(&conversations).Error
	if err != nil {
		return models.PaginationResult[models.Conversation]{}, err
	}

	page := 1
	totalPages := 1
	if limit > 0 {
		page = (offset / limit) + 1
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return models.PaginationResult[models.Conversation]{
		Data:       conversations,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	}, nil
}

// Delete removes a conversation and its messages (cascade). Scheduled
// viewings keep their plain conversation reference.
func (r *ConversationRepository) Delete(id uuid.UUID) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
