package otp

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
	"github.com/firmaentrega/backend/internal/pkg/security"
)

const (
	defaultChallengeTTLMinutes = 5
	defaultSessionTTLMinutes   = 30
	defaultMaxAttempts         = 5
	lockoutDuration            = 15 * time.Minute
	otpCodeLength              = 6
)

// Manager is the validation session manager: it issues OTP challenges
// against QR tokens and turns a verified challenge into a single-use
// validation session.
type Manager struct {
	qrTokens repository.QrTokenRepository
	sessions repository.SessionRepository
	store    ChallengeStore
	audit    confirm.AuditAppender
}

// NewManager wires the validation session manager.
func NewManager(repos *repository.Repositories, store ChallengeStore, audit confirm.AuditAppender) *Manager {
	return &Manager{
		qrTokens: repos.QrToken,
		sessions: repos.Session,
		store:    store,
		audit:    audit,
	}
}

// StartResult is the response of a challenge request. DebugCode carries the
// OTP only in dev environments; delivery of the code is out of scope.
type StartResult struct {
	ChallengeID      string `json:"challenge_id"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
	DebugCode        string `json:"debug_code,omitempty"`
}

// VerifyResult is the response of a successful OTP verification. The raw
// session token is returned exactly once and never persisted in reversible
// form.
type VerifyResult struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StartChallenge looks up the QR token by its public reference and issues an
// OTP challenge against it.
func (m *Manager) StartChallenge(ctx context.Context, qrRef string, meta requestmeta.RequestMeta) (*StartResult, *confirm.Error) {
	now := time.Now()

	token, err := m.qrTokens.GetByRef(qrRef)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, confirm.NewError(confirm.KindNotFound, "QR token not found")
		}
		return nil, confirm.WrapError(confirm.KindStorage, "QR token lookup failed", err)
	}
	if token.Status.IsTerminal() {
		return nil, confirm.NewError(confirm.KindConflict, "QR token already confirmed")
	}
	if token.IsExpired(now) {
		if transitioned, eerr := m.qrTokens.MarkExpired(token.ID); eerr == nil && transitioned {
			m.audit.Append("qr_token", token.ID, "expired", meta, map[string]any{"order_id": token.OrderID})
		}
		return nil, confirm.NewError(confirm.KindGone, "QR token expired")
	}

	code, cerr := security.GenerateOTPCode(otpCodeLength)
	if cerr != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to generate OTP code", cerr)
	}

	ttl := time.Duration(env.GetEnvInt("OTP_CHALLENGE_TTL_MINUTES", defaultChallengeTTLMinutes)) * time.Minute
	challenge := &Challenge{
		ID:          uuid.New().String(),
		QrID:        token.ID,
		CodeHash:    security.HashToken(code),
		MaxAttempts: env.GetEnvInt("OTP_MAX_ATTEMPTS", defaultMaxAttempts),
		ExpiresAt:   now.Add(ttl),
	}
	if serr := m.store.Save(ctx, challenge, ttl); serr != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to store OTP challenge", serr)
	}

	m.audit.Append("qr_token", token.ID, "otp_challenge_started", meta, map[string]any{
		"order_id":     token.OrderID,
		"challenge_id": challenge.ID,
	})

	result := &StartResult{
		ChallengeID:      challenge.ID,
		ExpiresInSeconds: int(ttl.Seconds()),
	}
	if env.IsDev() {
		log.Debugf("[OTP] challenge %s for qr %d: code %s", challenge.ID, token.ID, code)
		result.DebugCode = code
	}
	return result, nil
}

// VerifyOtp checks the code against a pending challenge. On success it
// creates the single-use validation session and returns its raw token.
func (m *Manager) VerifyOtp(ctx context.Context, challengeID, code string, meta requestmeta.RequestMeta) (*VerifyResult, *confirm.Error) {
	now := time.Now()

	challenge, lerr := m.store.Load(ctx, challengeID)
	if lerr != nil {
		if errors.Is(lerr, ErrChallengeNotFound) {
			return nil, confirm.NewError(confirm.KindGone, "OTP challenge expired")
		}
		return nil, confirm.WrapError(confirm.KindStorage, "failed to load OTP challenge", lerr)
	}
	if now.After(challenge.ExpiresAt) {
		return nil, confirm.NewError(confirm.KindGone, "OTP challenge expired")
	}
	if challenge.IsBlocked(now) {
		return nil, confirm.NewError(confirm.KindUnauthorized, "too many failed attempts, challenge locked")
	}

	if !security.ConstantTimeEquals(security.HashToken(code), challenge.CodeHash) {
		challenge.RegisterFailure(now, lockoutDuration)
		ttl := time.Until(challenge.ExpiresAt)
		if challenge.BlockedUntil != nil && challenge.BlockedUntil.After(challenge.ExpiresAt) {
			ttl = time.Until(*challenge.BlockedUntil)
		}
		if serr := m.store.Save(ctx, challenge, ttl); serr != nil {
			log.Warnf("[OTP] failed to persist attempt counter for challenge %s: %v", challengeID, serr)
		}
		if challenge.IsBlocked(now) {
			m.audit.Append("qr_token", challenge.QrID, "otp_locked_out", meta, map[string]any{
				"challenge_id": challengeID,
				"attempts":     challenge.Attempts,
			})
		}
		return nil, confirm.NewError(confirm.KindUnauthorized, "invalid OTP code")
	}

	rawToken, gerr := security.GenerateSessionToken()
	if gerr != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to generate session token", gerr)
	}

	sessionTTL := time.Duration(env.GetEnvInt("SESSION_TTL_MINUTES", defaultSessionTTLMinutes)) * time.Minute
	session := &models.ValidationSession{
		QrID:             challenge.QrID,
		ChallengeID:      challenge.ID,
		OtpVerified:      true,
		SessionTokenHash: security.HashToken(rawToken),
		ExpiresAt:        now.Add(sessionTTL),
	}
	if serr := m.sessions.Create(session); serr != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to create validation session", serr)
	}

	if derr := m.store.Delete(ctx, challengeID); derr != nil {
		log.Warnf("[OTP] failed to delete verified challenge %s: %v", challengeID, derr)
	}

	m.audit.Append("validation_session", session.ID, "otp_verified", meta, map[string]any{
		"qr_id":        challenge.QrID,
		"challenge_id": challenge.ID,
	})

	return &VerifyResult{
		SessionToken: rawToken,
		ExpiresAt:    session.ExpiresAt,
	}, nil
}
