package models

import "time"

// Queue job statuses
const (
	JobPending = "pending"
	JobRunning = "running"
)

// QueueJob is one durable unit of work. Jobs sharing a key are processed
// strictly in Seq order, one at a time; different keys run in parallel.
type QueueJob struct {
	BaseModel
	Seq       int64     `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	Key       string    `gorm:"not null;index" json:"key"` // conversation key (customer address)
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	Status    string    `gorm:"default:'pending';index" json:"status"`
	Attempts  int       `gorm:"default:0" json:"attempts"`
	NextRunAt time.Time `gorm:"index" json:"next_run_at"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
}

// DeadLetterJob holds jobs that exhausted all retries (or were shed under
// backpressure), pending manual review. Never dropped silently.
type DeadLetterJob struct {
	BaseModel
	Key      string `gorm:"not null;index" json:"key"`
	Payload  string `gorm:"type:text;not null" json:"payload"`
	Attempts int    `json:"attempts"`
	Reason   string `gorm:"type:text" json:"reason"`
}
