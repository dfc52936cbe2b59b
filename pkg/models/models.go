package models

// PaginationResult represents paginated results
type PaginationResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// ErrorResponse is the structured error body returned by portal endpoints
type ErrorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"` // boundary, retryable, invariant, duplicate
}

// GetAllModels returns all models for GORM AutoMigrate
func GetAllModels() []interface{} {
	return []interface{}{
		// Core models
		&User{},

		// Messaging models
		&Conversation{},
		&Message{},

		// Scheduling models
		&Property{},
		&AgentAvailability{},
		&AvailabilityWindow{},
		&ScheduledViewing{},

		// Queue models
		&QueueJob{},
		&DeadLetterJob{},
	}
}
