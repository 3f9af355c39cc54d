package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// confirmationRepository implements the ConfirmationRepository interface
type confirmationRepository struct {
	db *gorm.DB
}

// NewConfirmationRepository creates a new confirmation repository instance
func NewConfirmationRepository(db *gorm.DB) ConfirmationRepository {
	return &confirmationRepository{db: db}
}

// CreateWithTransition is the serialization point of the whole protocol.
// The conditional UPDATE on the QR token status guarantees at most one
// confirmation per token under concurrent submissions; the conditional
// consume guarantees the session is single-use. Either guard failing rolls
// back the entire unit.
func (r *confirmationRepository) CreateWithTransition(conf *models.Confirmation, pkgs []models.PackageConfirmation, newStatus models.QrStatus, offlineHash string) error {
	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":       newStatus,
			"confirmed_at": now,
		}
		if offlineHash != "" {
			updates["offline_delivery_hash"] = offlineHash
		}
		transition := tx.Model(&models.QrToken{}).
			Where("id = ? AND status = ?", conf.QrID, models.QrStatusPendiente).
			Updates(updates)
		if transition.Error != nil {
			return transition.Error
		}
		if transition.RowsAffected == 0 {
			return ErrAlreadyTerminal
		}

		consume := tx.Model(&models.ValidationSession{}).
			Where("id = ? AND consumed_at IS NULL", conf.SessionID).
			Update("consumed_at", now)
		if consume.Error != nil {
			return consume.Error
		}
		if consume.RowsAffected == 0 {
			return ErrSessionConsumed
		}

		if err := tx.Create(conf).Error; err != nil {
			return err
		}
		for i := range pkgs {
			pkgs[i].ConfirmationID = conf.ID
		}
		if len(pkgs) > 0 {
			if err := tx.Create(&pkgs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a confirmation with its package decisions
func (r *confirmationRepository) GetByID(id uint) (*models.Confirmation, error) {
	var conf models.Confirmation
	err := r.db.Preload("Packages").First(&conf, id).Error
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

// GetByQrID retrieves the confirmation of a QR token, if any
func (r *confirmationRepository) GetByQrID(qrID uint) (*models.Confirmation, error) {
	var conf models.Confirmation
	err := r.db.Preload("Packages").Where("qr_id = ?", qrID).First(&conf).Error
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

// AttachEvidence records the evidence document path and checksum. This is
// the only update a confirmation row ever receives.
func (r *confirmationRepository) AttachEvidence(id uint, path, checksum string) error {
	return r.db.Model(&models.Confirmation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"evidence_pdf_path":     path,
			"evidence_pdf_checksum": checksum,
		}).Error
}

// ListMissingEvidence returns confirmations whose evidence upload failed and
// needs to be retried.
func (r *confirmationRepository) ListMissingEvidence(limit int) ([]models.Confirmation, error) {
	var confs []models.Confirmation
	err := r.db.Where("evidence_pdf_checksum IS NULL OR evidence_pdf_checksum = ''").
		Order("created_at ASC").Limit(limit).Find(&confs).Error
	return confs, err
}
