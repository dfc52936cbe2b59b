package repo

import (
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QueueRepository is the durable store behind the work queue
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// Enqueue durably persists a job. Returns once the row is committed.
func (r *QueueRepository) Enqueue(job *models.QueueJob) error {
	return r.db.Create(job).Error
}

// DueJobs returns the earliest pending job per key that is due, skipping keys
// with a job already running. The head of each key is picked BEFORE the
// due-ness filter: a head job sitting in retry backoff holds its whole key
// back, so later jobs on that key can never overtake it.
func (r *QueueRepository) DueJobs(now time.Time, limit int) ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	err := r.db.Raw(`
		SELECT * FROM (
			SELECT DISTINCT ON (key) *
			FROM queue_jobs
			WHERE status = ? AND deleted_at IS NULL
			  AND key NOT IN (
				SELECT key FROM queue_jobs WHERE status = ? AND deleted_at IS NULL
			  )
			ORDER BY key, seq
		) head
		WHERE next_run_at <= ?
		ORDER BY seq
		LIMIT ?`,
		models.JobPending, models.JobRunning, now, limit,
	).Scan(&jobs).Error
	return jobs, err
}

// MarkRunning claims a pending job. Returns false when another worker got
// there first.
func (r *QueueRepository) MarkRunning(id uuid.UUID) (bool, error) {
	result := r.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", id, models.JobPending).
		Update("status", models.JobRunning)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkDone removes a completed job
func (r *QueueRepository) MarkDone(id uuid.UUID) error {
	return r.db.Unscoped().Where("id = ?", id).Delete(&models.QueueJob{}).Error
}

// Reschedule returns a failed job to pending with a new due time
func (r *QueueRepository) Reschedule(id uuid.UUID, attempts int, nextRun time.Time, lastErr string) error {
	return r.db.Model(&models.QueueJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      models.JobPending,
			"attempts":    attempts,
			"next_run_at": nextRun,
			"last_error":  lastErr,
		}).Error
}

// MoveToDeadLetter moves a job to the dead-letter store in one transaction
func (r *QueueRepository) MoveToDeadLetter(job *models.QueueJob, reason string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		dead := models.DeadLetterJob{
			Key:      job.Key,
			Payload:  job.Payload,
			Attempts: job.Attempts,
			Reason:   reason,
		}
		if err := tx.Create(&dead).Error; err != nil {
			return err
		}
		if job.ID == uuid.Nil {
			// Shed before it was ever persisted as a job
			return nil
		}
		return tx.Unscoped().Where("id = ?", job.ID).Delete(&models.QueueJob{}).Error
	})
}

// PendingCount returns the current queue depth
func (r *QueueRepository) PendingCount() (int64, error) {
	var count int64
	err := r.db.Model(&models.QueueJob{}).
		Where("status IN ?", []string{models.JobPending, models.JobRunning}).
		Count(&count).Error
	return count, err
}

// PendingExternalID reports whether a queued job already carries the platform
// message id. Part of the dedup gate together with the persisted messages.
func (r *QueueRepository) PendingExternalID(externalID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.QueueJob{}).
		Where("payload LIKE ?", "%\""+externalID+"\"%").
		Count(&count).Error
	return count > 0, err
}

// DeadLetterCount returns how many jobs sit in the dead-letter store
func (r *QueueRepository) DeadLetterCount() (int64, error) {
	var count int64
	err := r.db.Model(&models.DeadLetterJob{}).Count(&count).Error
	return count, err
}

// ListDeadLetters lists dead-lettered jobs newest first
func (r *QueueRepository) ListDeadLetters(limit, offset int) (models.PaginationResult[models.DeadLetterJob], error) {
	var jobs []models.DeadLetterJob
	var total int64

	if err := r.db.Model(&models.DeadLetterJob{}).Count(&total).Error; err != nil {
		return models.PaginationResult[models.DeadLetterJob]{}, err
	}

	err := r.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return models.PaginationResult[models.DeadLetterJob]{}, err
	}

	page := 1
	totalPages := 1
	if limit > 0 {
		page = (offset / limit) + 1
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return models.PaginationResult[models.DeadLetterJob]{
		Data:       jobs,
		Total:      total,
		Page:       page,
		PerPage:    limit,
		TotalPages: totalPages,
	}, nil
}

// RetryDeadLetter moves a dead-lettered job back onto the queue
func (r *QueueRepository) RetryDeadLetter(id uuid.UUID) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var dead models.DeadLetterJob
		if err := tx.Where("id = ?", id).First(&dead).Error; err != nil {
			return err
		}

		job := models.QueueJob{
			Key:       dead.Key,
			Payload:   dead.Payload,
			Status:    models.JobPending,
			NextRunAt: time.Now(),
		}
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("id = ?", dead.ID).Delete(&models.DeadLetterJob{}).Error
	})
}
