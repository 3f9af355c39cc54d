package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/firmaentrega/backend/app/models"
)

// offlineEventRepository implements the OfflineEventRepository interface
type offlineEventRepository struct {
	db *gorm.DB
}

// NewOfflineEventRepository creates a new offline event repository instance
func NewOfflineEventRepository(db *gorm.DB) OfflineEventRepository {
	return &offlineEventRepository{db: db}
}

// UpsertByHash relies on the unique index on offline_hash: a replay of the
// same client-computed hash updates the existing row instead of inserting a
// duplicate.
func (r *offlineEventRepository) UpsertByHash(event *models.OfflineEvent) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "offline_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sync_status", "synced_at", "server_validation_message", "updated_at",
		}),
	}).Create(event).Error
}

// GetByHash retrieves an offline event by its idempotency hash
func (r *offlineEventRepository) GetByHash(hash string) (*models.OfflineEvent, error) {
	var event models.OfflineEvent
	err := r.db.Where("offline_hash = ?", hash).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}
