package models

import (
	"time"
)

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// OfflineEvent records that a confirmation captured without connectivity was
// accepted by the server. OfflineHash is the client-computed idempotency key:
// replaying the same hash updates the existing row instead of creating a
// second one.
type OfflineEvent struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	QrID                    uint       `gorm:"index;not null" json:"qr_id"`
	OrderID                 string     `gorm:"type:varchar(64);index" json:"order_id"`
	DeviceID                string     `gorm:"type:varchar(128)" json:"device_id"`
	EventType               string     `gorm:"type:varchar(64);not null" json:"event_type"`
	EventPayload            *JSON      `gorm:"type:json" json:"event_payload,omitempty"`
	OfflineHash             string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"offline_hash"`
	CapturedAt              *time.Time `gorm:"type:datetime" json:"captured_at,omitempty"`
	SyncStatus              SyncStatus `gorm:"type:varchar(16);default:'pending';index" json:"sync_status"`
	SyncedAt                *time.Time `gorm:"type:datetime;default:null" json:"synced_at,omitempty"`
	ServerValidationMessage string     `gorm:"type:varchar(255)" json:"server_validation_message"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
