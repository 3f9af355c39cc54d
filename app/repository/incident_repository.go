package repository

import (
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// incidentRepository implements the IncidentRepository interface
type incidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository creates a new incident repository instance
func NewIncidentRepository(db *gorm.DB) IncidentRepository {
	return &incidentRepository{db: db}
}

// Create creates a new incident record
func (r *incidentRepository) Create(incident *models.Incident) error {
	return r.db.Create(incident).Error
}

// GetByConfirmationID retrieves the incident linked to a confirmation
func (r *incidentRepository) GetByConfirmationID(confirmationID uint) (*models.Incident, error) {
	var incident models.Incident
	err := r.db.Where("confirmation_id = ?", confirmationID).First(&incident).Error
	if err != nil {
		return nil, err
	}
	return &incident, nil
}
