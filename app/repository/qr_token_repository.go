package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// qrTokenRepository implements the QrTokenRepository interface
type qrTokenRepository struct {
	db *gorm.DB
}

// NewQrTokenRepository creates a new QR token repository instance
func NewQrTokenRepository(db *gorm.DB) QrTokenRepository {
	return &qrTokenRepository{db: db}
}

// CreateWithPackages inserts the token and its manifest rows as one unit.
func (r *qrTokenRepository) CreateWithPackages(token *models.QrToken, packages []models.Package) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(token).Error; err != nil {
			return err
		}
		for i := range packages {
			packages[i].QrID = token.ID
		}
		if len(packages) > 0 {
			if err := tx.Create(&packages).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetByID retrieves a QR token by its ID
func (r *qrTokenRepository) GetByID(id uint) (*models.QrToken, error) {
	var token models.QrToken
	err := r.db.First(&token, id).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetByRef retrieves a QR token by its public reference
func (r *qrTokenRepository) GetByRef(ref string) (*models.QrToken, error) {
	var token models.QrToken
	err := r.db.Where("public_ref = ?", ref).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// GetPackages retrieves the manifest of a QR token ordered by package number
func (r *qrTokenRepository) GetPackages(qrID uint) ([]models.Package, error) {
	var packages []models.Package
	err := r.db.Where("qr_id = ?", qrID).Order("package_number ASC").Find(&packages).Error
	return packages, err
}

// MarkExpired performs the lazy pendiente -> expirado transition. The
// conditional update makes a racing confirm attempt and this sweep agree on
// exactly one terminal state.
func (r *qrTokenRepository) MarkExpired(id uint) (bool, error) {
	result := r.db.Model(&models.QrToken{}).
		Where("id = ? AND status = ?", id, models.QrStatusPendiente).
		Updates(map[string]any{"status": models.QrStatusExpirado, "revoked_at": time.Now()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Count returns the total number of QR tokens
func (r *qrTokenRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.QrToken{}).Count(&count).Error
	return count, err
}
