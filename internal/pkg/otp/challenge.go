package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/firmaentrega/backend/internal/pkg/cache"
)

const challengeKeyPrefix = "otp:challenge:"

// Challenge is one pending OTP check for a QR token. Only the hash of the
// code is stored; attempts and lockout live with the challenge and expire
// with it.
type Challenge struct {
	ID           string     `json:"id"`
	QrID         uint       `json:"qr_id"`
	CodeHash     string     `json:"code_hash"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

// IsBlocked reports whether the lockout policy applies at the given instant.
func (c *Challenge) IsBlocked(now time.Time) bool {
	return c.BlockedUntil != nil && now.Before(*c.BlockedUntil)
}

// RegisterFailure counts a wrong code and applies the lockout once the
// attempt budget is exhausted.
func (c *Challenge) RegisterFailure(now time.Time, lockout time.Duration) {
	c.Attempts++
	if c.Attempts >= c.MaxAttempts {
		until := now.Add(lockout)
		c.BlockedUntil = &until
	}
}

// ChallengeStore persists pending challenges. Backed by Redis in production;
// tests use an in-memory fake.
type ChallengeStore interface {
	Save(ctx context.Context, ch *Challenge, ttl time.Duration) error
	Load(ctx context.Context, id string) (*Challenge, error)
	Delete(ctx context.Context, id string) error
}

// ErrChallengeNotFound is returned when a challenge is absent or expired.
var ErrChallengeNotFound = errors.New("otp challenge not found")

// redisChallengeStore stores challenges as JSON values with a TTL matching
// the challenge expiry.
type redisChallengeStore struct{}

// NewRedisChallengeStore creates the production challenge store.
func NewRedisChallengeStore() ChallengeStore {
	return &redisChallengeStore{}
}

func (s *redisChallengeStore) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}
	return cache.GetClient().Set(ctx, challengeKeyPrefix+ch.ID, payload, ttl).Err()
}

func (s *redisChallengeStore) Load(ctx context.Context, id string) (*Challenge, error) {
	payload, err := cache.GetClient().Get(ctx, challengeKeyPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(payload), &ch); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &ch, nil
}

func (s *redisChallengeStore) Delete(ctx context.Context, id string) error {
	return cache.GetClient().Del(ctx, challengeKeyPrefix+id).Err()
}
