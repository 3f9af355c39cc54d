package models

import (
	"time"

	"gorm.io/gorm"
)

// ValidationSession is the proof that an OTP challenge for a QR token was
// satisfied. Only the SHA-256 hash of the session token is stored; the raw
// token is handed to the courier device once and never persisted.
//
// A session is single-use: ConsumedAt is set exactly once, under a
// conditional update that fails if it is already set.
type ValidationSession struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	QrID             uint       `gorm:"index;not null" json:"qr_id"`
	QrToken          *QrToken   `gorm:"foreignKey:QrID" json:"qr_token,omitempty"`
	ChallengeID      string     `gorm:"type:char(36);index;not null" json:"challenge_id"`
	OtpVerified      bool       `gorm:"default:false" json:"otp_verified"`
	SessionTokenHash string     `gorm:"type:char(64);uniqueIndex;not null" json:"-"`
	ExpiresAt        time.Time  `gorm:"type:datetime;not null" json:"expires_at"`
	ConsumedAt       *time.Time `gorm:"type:datetime;default:null" json:"consumed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsExpired reports whether the session itself is past its expiry. Session
// expiry is independent of the QR token's expiry.
func (s *ValidationSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsConsumed reports whether the session has already been used to confirm.
func (s *ValidationSession) IsConsumed() bool {
	return s.ConsumedAt != nil
}
