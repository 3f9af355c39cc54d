package models

import (
	"time"
)

// PackageConfirmation is the accept/reject decision for one parcel within a
// confirmation. Exactly one row exists per Package of the owning QR token.
type PackageConfirmation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ConfirmationID  uint      `gorm:"index:idx_pkgconf_confirmation_number,unique;not null" json:"confirmation_id"`
	PackageID       uint      `gorm:"index;not null" json:"package_id"`
	PackageNumber   int       `gorm:"index:idx_pkgconf_confirmation_number,unique;not null" json:"package_number"`
	Accepted        bool      `gorm:"not null" json:"accepted"`
	RejectionReason *string   `gorm:"type:text" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
