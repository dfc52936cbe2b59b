package repo

import (
	"strings"
	"time"

	"imovia/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepository handles user data access
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByEmail gets a user by email
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("LOWER(email) = LOWER(?)", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID gets a user by ID
func (r *UserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// Update updates a user
func (r *UserRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// List lists users with pagination
func (r *UserRepository) List(limit, offset int) ([]models.User, error) {
	var users []models.User
	err := r.db.Limit(limit).Offset(offset).Order("created_at DESC").Find(&users).Error
	return users, err
}

// TouchLogin records a successful login
func (r *UserRepository) TouchLogin(id uuid.UUID) error {
	now := time.Now()
	return r.db.Model(&models.User{}).Where("id = ?", id).Update("last_login_at", now).Error
}

// IsAgentPhone reports whether the phone belongs to a registered agent's
// personal device. Used by the normalizer to filter agent-originated
// webhook messages.
func (r *UserRepository) IsAgentPhone(phone string) (bool, error) {
	phone = digitsOnly(phone)
	if phone == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&models.User{}).
		Where("personal_phone = ? AND is_active = ?", phone, true).
		Count(&count).Error
	return count > 0, err
}

// ListAdminEmails returns the email addresses of active admins
func (r *UserRepository) ListAdminEmails() ([]string, error) {
	var emails []string
	err := r.db.Model(&models.User{}).
		Where("role = ? AND is_active = ? AND email != ''", models.UserRoleAdmin, true).
		Pluck("email", &emails).Error
	return emails, err
}

// AgentForDestination resolves the agent owning the business number a
// customer wrote to, falling back to the default agent.
func (r *UserRepository) AgentForDestination(toAddress string) (*models.User, error) {
	number := digitsOnly(toAddress)

	var agent models.User
	err := r.db.Where("business_number = ? AND is_active = ?", number, true).First(&agent).Error
	if err == nil {
		return &agent, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	err = r.db.Where("is_default = ? AND is_active = ?", true, true).First(&agent).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// digitsOnly strips everything but digits from a phone-like address
func digitsOnly(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	var b strings.Builder
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
