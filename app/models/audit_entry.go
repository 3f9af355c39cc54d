package models

import (
	"time"
)

// AuditEntry is an append-only record of a state-changing action. Rows are
// never updated or deleted.
type AuditEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntityType string    `gorm:"type:varchar(64);index:idx_audit_entity;not null" json:"entity_type"`
	EntityID   uint      `gorm:"index:idx_audit_entity;not null" json:"entity_id"`
	Action     string    `gorm:"type:varchar(64);not null" json:"action"`
	ActorType  string    `gorm:"type:varchar(32)" json:"actor_type"`
	RequestID  string    `gorm:"type:char(36);index" json:"request_id"`
	IPAddress  string    `gorm:"type:varchar(45)" json:"-"`
	DeviceInfo string    `gorm:"type:varchar(255)" json:"-"`
	Metadata   *JSON     `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
