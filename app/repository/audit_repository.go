package repository

import (
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// auditRepository implements the AuditRepository interface
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Append writes one immutable audit entry
func (r *auditRepository) Append(entry *models.AuditEntry) error {
	return r.db.Create(entry).Error
}

// ListByEntity returns the audit trail of one entity, oldest first
func (r *auditRepository) ListByEntity(entityType string, entityID uint) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").Find(&entries).Error
	return entries, err
}
