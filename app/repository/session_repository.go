package repository

import (
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// sessionRepository implements the SessionRepository interface
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new validation session repository instance
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create creates a new validation session
func (r *sessionRepository) Create(session *models.ValidationSession) error {
	return r.db.Create(session).Error
}

// GetByTokenHash retrieves a session by the hash of its raw token
func (r *sessionRepository) GetByTokenHash(hash string) (*models.ValidationSession, error) {
	var session models.ValidationSession
	err := r.db.Where("session_token_hash = ?", hash).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}
