package models

import (
	"time"

	"gorm.io/gorm"
)

// ConfirmationResult is the precise outcome of one confirmation. It is finer
// grained than QrStatus: a parcial result still maps the QR token to
// confirmado for downstream routing.
type ConfirmationResult string

const (
	ResultConfirmado          ConfirmationResult = "confirmado"
	ResultConfirmadoIncidente ConfirmationResult = "confirmado_con_incidente"
	ResultRechazado           ConfirmationResult = "rechazado"
	ResultParcial             ConfirmationResult = "parcial"
)

// QrStatus maps the confirmation result to the coarse terminal status the
// owning QR token takes. Parcial deliberately maps to confirmado; the precise
// outcome stays on the Confirmation row.
func (r ConfirmationResult) QrStatus() QrStatus {
	switch r {
	case ResultRechazado:
		return QrStatusRechazado
	case ResultConfirmadoIncidente:
		return QrStatusConfirmadoIncidente
	default:
		return QrStatusConfirmado
	}
}

// Confirmation is the outcome record for one QR token. At most one row exists
// per QrID; the row is never updated except to attach the evidence document
// after generation.
type Confirmation struct {
	ID                    uint               `gorm:"primaryKey" json:"id"`
	QrID                  uint               `gorm:"uniqueIndex;not null" json:"qr_id"`
	QrToken               *QrToken           `gorm:"foreignKey:QrID" json:"qr_token,omitempty"`
	SessionID             uint               `gorm:"index;not null" json:"session_id"`
	OrderID               string             `gorm:"type:varchar(64);index;not null" json:"order_id"`
	Result                ConfirmationResult `gorm:"type:varchar(32);not null" json:"result"`
	AcceptedPackagesCount int                `gorm:"not null" json:"accepted_packages_count"`
	TotalPackages         int                `gorm:"not null" json:"total_packages"`
	DigitalSignature      string             `gorm:"type:mediumtext;not null" json:"-"`
	SignatureName         string             `gorm:"type:varchar(150)" json:"signature_name"`
	LegalClauseText       string             `gorm:"type:text" json:"legal_clause_text"`
	LegalAcceptedAt       time.Time          `gorm:"type:datetime;not null" json:"legal_accepted_at"`
	AcceptanceIP          string             `gorm:"type:varchar(45)" json:"-"`
	AcceptanceDevice      string             `gorm:"type:varchar(255)" json:"-"`
	GeoLat                float64            `gorm:"type:decimal(10,8)" json:"geo_lat"`
	GeoLng                float64            `gorm:"type:decimal(11,8)" json:"geo_lng"`
	GeoAccuracy           float64            `gorm:"type:decimal(10,2)" json:"geo_accuracy"`
	PartialReason         string             `gorm:"type:text" json:"partial_reason,omitempty"`
	EvidencePdfPath       string             `gorm:"type:varchar(255);default:null" json:"evidence_pdf_path,omitempty"`
	EvidencePdfChecksum   string             `gorm:"type:char(64);default:null" json:"evidence_pdf_checksum,omitempty"`
	// relations
	Packages  []PackageConfirmation `gorm:"foreignKey:ConfirmationID" json:"package_confirmations,omitempty"`
	CreatedAt time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt        `gorm:"index" json:"-"`
}

// HasEvidence reports whether the evidence document was attached. A missing
// document is the accepted degraded state after a storage failure; the
// confirmation itself stays authoritative.
func (c *Confirmation) HasEvidence() bool {
	return c.EvidencePdfPath != "" && c.EvidencePdfChecksum != ""
}
