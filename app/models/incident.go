package models

import (
	"time"

	"gorm.io/gorm"
)

type IncidentStatus string

const (
	IncidentStatusAbierto  IncidentStatus = "abierto"
	IncidentStatusEnCurso  IncidentStatus = "en_curso"
	IncidentStatusResuelto IncidentStatus = "resuelto"
	IncidentStatusCerrado  IncidentStatus = "cerrado"
)

// Incident is a defect claim filed at confirmation time. It is created once
// by the confirmation flow; downstream claim handling mutates the status.
type Incident struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	QrID               uint           `gorm:"index;not null" json:"qr_id"`
	ConfirmationID     uint           `gorm:"index;not null" json:"confirmation_id"`
	OrderID            string         `gorm:"type:varchar(64);index;not null" json:"order_id"`
	InvoiceNumber      string         `gorm:"type:varchar(64);not null" json:"invoice_number"`
	ProductReference   string         `gorm:"type:varchar(128);not null" json:"product_reference"`
	DefectiveQuantity  int            `gorm:"not null" json:"defective_quantity"`
	Description        string         `gorm:"type:text" json:"description"`
	ClaimantName       string         `gorm:"type:varchar(150)" json:"claimant_name"`
	ClaimantContact    string         `gorm:"type:varchar(150)" json:"claimant_contact"`
	EvidencePhotoPaths *JSON          `gorm:"type:json" json:"evidence_photo_paths,omitempty"`
	GuidePhotoPath     string         `gorm:"type:varchar(255)" json:"guide_photo_path"`
	PqrsTicketID       string         `gorm:"type:varchar(64);index" json:"pqrs_ticket_id"`
	PqrsTicketNumber   string         `gorm:"type:varchar(64)" json:"pqrs_ticket_number"`
	Status             IncidentStatus `gorm:"type:varchar(32);default:'abierto'" json:"status"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`
}
