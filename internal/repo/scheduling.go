package repo

import (
	"errors"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SchedulingRepository handles availability and viewing data access
type SchedulingRepository struct {
	db *gorm.DB
}

// NewSchedulingRepository creates a new scheduling repository
func NewSchedulingRepository(db *gorm.DB) *SchedulingRepository {
	return &SchedulingRepository{db: db}
}

// Availability returns the agent's availability with its weekly windows,
// or nil when none is configured
func (r *SchedulingRepository) Availability(agentID uuid.UUID) (*models.AgentAvailability, error) {
	var av models.AgentAvailability
	err := r.db.Preload("Windows").Where("agent_id = ?", agentID).First(&av).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &av, nil
}

// ReplaceAvailability replaces the agent's availability wholesale: the old
// windows are dropped, never merged per-window.
func (r *SchedulingRepository) ReplaceAvailability(av *models.AgentAvailability) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.AgentAvailability
		err := tx.Where("agent_id = ?", av.AgentID).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Where("availability_id = ?", existing.ID).
				Delete(&models.AvailabilityWindow{}).Error; err != nil {
				return err
			}
			existing.Timezone = av.Timezone
			existing.BufferMinutes = av.BufferMinutes
			existing.ViewingDurationMinutes = av.ViewingDurationMinutes
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			av.ID = existing.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			windows := av.Windows
			av.Windows = nil
			if err := tx.Create(av).Error; err != nil {
				return err
			}
			av.Windows = windows
		default:
			return err
		}

		for i := range av.Windows {
			av.Windows[i].AvailabilityID = av.ID
			av.Windows[i].ID = uuid.Nil
			if err := tx.Create(&av.Windows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ActiveViewings returns non-cancelled viewings for the agent whose interval
// may intersect [from, to), optionally excluding one viewing (reschedule)
func (r *SchedulingRepository) ActiveViewings(agentID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]models.ScheduledViewing, error) {
	return r.activeViewings(r.db, agentID, from, to, exclude)
}

func (r *SchedulingRepository) activeViewings(tx *gorm.DB, agentID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]models.ScheduledViewing, error) {
	var viewings []models.ScheduledViewing
	q := tx.Where("agent_id = ? AND status != ?", agentID, models.ViewingCancelled).
		// duration is bounded; a day of slack on each side covers buffers
		Where("scheduled_time >= ? AND scheduled_time < ?", from.Add(-24*time.Hour), to.Add(24*time.Hour))
	if exclude != nil {
		q = q.Where("id != ?", *exclude)
	}
	err := q.Order("scheduled_time ASC").Find(&viewings).Error
	return viewings, err
}

// Book inserts a viewing after re-validating against the agent's calendar
// inside one transaction. The agent's availability row is locked FOR UPDATE
// first, so concurrent bookings for the same agent serialize and at most one
// of two overlapping requests can pass validation.
func (r *SchedulingRepository) Book(v *models.ScheduledViewing, validate func(busy []models.ScheduledViewing) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var av models.AgentAvailability
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("agent_id = ?", v.AgentID).First(&av).Error; err != nil {
			return err
		}

		busy, err := r.activeViewings(tx, v.AgentID, v.ScheduledTime, v.End(), nil)
		if err != nil {
			return err
		}
		if err := validate(busy); err != nil {
			return err
		}

		v.Status = models.ViewingScheduled
		return tx.Create(v).Error
	})
}

// Reschedule moves a viewing to a new time under the same agent-level lock
// and validation as Book, excluding the viewing being moved. The row is
// re-read inside the transaction and handed to validate, so status checks see
// concurrent cancellations.
func (r *SchedulingRepository) Reschedule(id, agentID uuid.UUID, newTime time.Time, validate func(current *models.ScheduledViewing, busy []models.ScheduledViewing) error) (*models.ScheduledViewing, error) {
	var moved models.ScheduledViewing
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var av models.AgentAvailability
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("agent_id = ?", agentID).First(&av).Error; err != nil {
			return err
		}

		if err := tx.Where("id = ? AND agent_id = ?", id, agentID).First(&moved).Error; err != nil {
			return err
		}

		end := newTime.Add(time.Duration(moved.DurationMinutes) * time.Minute)
		busy, err := r.activeViewings(tx, agentID, newTime, end, &id)
		if err != nil {
			return err
		}
		if err := validate(&moved, busy); err != nil {
			return err
		}

		moved.ScheduledTime = newTime
		return tx.Save(&moved).Error
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// ViewingByID gets a viewing by ID scoped to its agent
func (r *SchedulingRepository) ViewingByID(id, agentID uuid.UUID) (*models.ScheduledViewing, error) {
	var v models.ScheduledViewing
	err := r.db.Preload("Property").Where("id = ? AND agent_id = ?", id, agentID).First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateViewingStatus sets a viewing status, optionally appending a note
func (r *SchedulingRepository) UpdateViewingStatus(id, agentID uuid.UUID, status, notes string) error {
	updates := map[string]interface{}{"status": status}
	if notes != "" {
		updates["notes"] = notes
	}
	result := r.db.Model(&models.ScheduledViewing{}).
		Where("id = ? AND agent_id = ?", id, agentID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListViewings lists the agent's viewings newest first
func (r *SchedulingRepository) ListViewings(agentID uuid.UUID, limit, offset int) (models.PaginationResult[models.ScheduledViewing], error) {
	var viewings []models.ScheduledViewing
	var total int64

	query := r.db.Model(&models.ScheduledViewing{}).Where("agent_id = ?", agentID)
	if err := query.Count(&total).Error; err != nil {
		return models.PaginationResult[models.ScheduledViewing]{}, err
	}

	err := r.db.Preload("Property").Where("agent_id = ?", agentID).
		Order("scheduled_time DESC").
		Limit(limit).Offset(offset).
		Find(&viewings).Error
	if err != nil {
		return models.PaginationResult[models.ScheduledViewing]{}, err
	}

	page := 1
	totalPages := 1
	if limit > 0 {
		page = (offset / limit) + 1
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return models.PaginationResult[models.ScheduledViewing]{
		Data:       viewings,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	}, nil
}

// PropertyByID gets a property by ID
func (r *SchedulingRepository) PropertyByID(id uuid.UUID) (*models.Property, error) {
	var p models.Property
	err := r.db.Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProperty creates a new property
func (r *SchedulingRepository) CreateProperty(p *models.Property) error {
	return r.db.Create(p).Error
}

// ListProperties lists active properties for an agent
func (r *SchedulingRepository) ListProperties(agentID uuid.UUID, limit, offset int) ([]models.Property, error) {
	var properties []models.Property
	err := r.db.Where("agent_id = ? AND is_active = ?", agentID, true).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&properties).Error
	return properties, err
}
