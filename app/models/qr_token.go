package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QrStatus is the coarse lifecycle state of a QR token. Once a token reaches
// a terminal state it never reverts.
type QrStatus string

const (
	QrStatusPendiente            QrStatus = "pendiente"
	QrStatusConfirmado           QrStatus = "confirmado"
	QrStatusConfirmadoIncidente  QrStatus = "confirmado_con_incidente"
	QrStatusRechazado            QrStatus = "rechazado"
	QrStatusExpirado             QrStatus = "expirado"
)

// QrToken identifies one delivery manifest. The PublicRef is what gets printed
// on the physical label and embeds no sensitive data.
type QrToken struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	PublicRef           string     `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"public_ref"`
	OrderID             string     `gorm:"type:varchar(64);index;not null" json:"order_id"`
	WarehouseID         string     `gorm:"type:varchar(64);not null" json:"warehouse_id"`
	TransporterID       string     `gorm:"type:varchar(64);not null" json:"transporter_id"`
	DeliveryBatchID     string     `gorm:"type:varchar(64)" json:"delivery_batch_id"`
	Status              QrStatus   `gorm:"type:varchar(32);default:'pendiente';index" json:"status"`
	IssuedAt            time.Time  `gorm:"type:datetime;not null" json:"issued_at"`
	ExpiresAt           time.Time  `gorm:"type:datetime;not null" json:"expires_at"`
	ConfirmedAt         *time.Time `gorm:"type:datetime;default:null" json:"confirmed_at,omitempty"`
	RevokedAt           *time.Time `gorm:"type:datetime;default:null" json:"revoked_at,omitempty"`
	OfflineDeliveryHash string     `gorm:"type:varchar(128);default:null" json:"-"`
	// relations
	Packages  []Package      `gorm:"foreignKey:QrID" json:"packages,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate generates the public reference if none was provided.
func (q *QrToken) BeforeCreate(tx *gorm.DB) error {
	if q.PublicRef == "" {
		q.PublicRef = uuid.New().String()
	}
	return nil
}

// IsTerminal reports whether the token can no longer be confirmed.
func (s QrStatus) IsTerminal() bool {
	switch s {
	case QrStatusConfirmado, QrStatusConfirmadoIncidente, QrStatusRechazado, QrStatusExpirado:
		return true
	}
	return false
}

// IsExpired reports whether the token is past its expiry at the given instant.
// Expiration is lazy: the stored status may still say pendiente.
func (q *QrToken) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// FindQrTokenByRef finds a QR token by its public reference.
func FindQrTokenByRef(db *gorm.DB, ref string) (*QrToken, error) {
	var token QrToken
	result := db.Where("public_ref = ?", ref).First(&token)
	return &token, result.Error
}
