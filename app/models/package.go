package models

import (
	"time"
)

// Package is one physical parcel within a QR token's manifest. Rows are
// created at issuance and never changed afterwards.
type Package struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	QrID            uint      `gorm:"index:idx_packages_qr_number,unique;not null" json:"qr_id"`
	PackageNumber   int       `gorm:"index:idx_packages_qr_number,unique;not null" json:"package_number"`
	TotalPackages   int       `gorm:"not null" json:"total_packages"`
	QuantityTotal   int       `gorm:"not null" json:"quantity_total"`
	SkuDistribution *JSON     `gorm:"type:json" json:"sku_distribution,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
