package db

import (
	"fmt"
	"os"

	"imovia/pkg/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection
func NewDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		os.Getenv("DB_HOST"),
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_NAME"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_SSLMODE"),
		os.Getenv("DB_TIMEZONE"),
	)

	config := &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Error),
		DisableForeignKeyConstraintWhenMigrating: false,
	}

	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// AutoMigrate runs database migrations using GORM
func AutoMigrate(db *gorm.DB) error {
	log.Info().Msg("Running GORM AutoMigrate...")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Warn().Err(err).Msg("Could not create uuid-ossp extension")
	}

	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to run GORM AutoMigrate: %w", err)
	}

	if err := createCustomIndexes(db); err != nil {
		log.Warn().Err(err).Msg("Failed to create some custom indexes")
	}

	log.Info().Msg("GORM AutoMigrate completed successfully")
	return nil
}

// createCustomIndexes creates the indexes GORM cannot express with tags
func createCustomIndexes(db *gorm.DB) error {
	indexes := []string{
		// One non-closed conversation per (agent, customer address)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_agent_customer_open
			ON conversations(agent_id, customer_address)
			WHERE status != 'closed' AND deleted_at IS NULL`,

		// Inbound messages are appended at most once per platform message id
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external_inbound
			ON messages(external_id)
			WHERE role = 'user' AND external_id != '' AND deleted_at IS NULL`,

		// Booking check-and-insert relies on a per-agent lock plus this
		// last line of defense against two viewings at the same instant
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_viewings_agent_slot
			ON scheduled_viewings(agent_id, scheduled_time)
			WHERE status != 'cancelled' AND deleted_at IS NULL`,

		// Dispatcher scans for the earliest due job per key
		`CREATE INDEX IF NOT EXISTS idx_queue_jobs_key_seq
			ON queue_jobs(key, seq)
			WHERE status = 'pending' AND deleted_at IS NULL`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("Failed to create index")
		}
	}

	return nil
}

// SeedInitialData creates initial system data
func SeedInitialData(db *gorm.DB) error {
	var userCount int64
	if err := db.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&userCount).Error; err != nil {
		return fmt.Errorf("failed to check existing users: %w", err)
	}

	if userCount == 0 {
		password := os.Getenv("ADMIN_INITIAL_PASSWORD")
		if password == "" {
			password = "changeme123"
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}

		adminUser := models.User{
			Email:    "admin@imovia.local",
			Password: string(hash),
			Name:     "System Administrator",
			Role:     models.UserRoleAdmin,
			IsActive: true,
		}

		if err := db.Create(&adminUser).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		log.Info().Msg("Admin user created successfully")
	}

	return nil
}

// RunMigrations is the main migration function called from main.go
func RunMigrations(db *gorm.DB) error {
	log.Info().Msg("Starting database migrations...")

	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}

	if err := SeedInitialData(db); err != nil {
		return fmt.Errorf("initial data seeding failed: %w", err)
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
