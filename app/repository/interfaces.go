package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
)

// ErrAlreadyTerminal is returned when a conditional status transition finds
// the QR token already in a terminal state.
var ErrAlreadyTerminal = errors.New("qr token already in a terminal state")

// ErrSessionConsumed is returned when a conditional consume finds the
// validation session already used.
var ErrSessionConsumed = errors.New("validation session already consumed")

// QrTokenRepository defines the interface for QR token database operations
type QrTokenRepository interface {
	CreateWithPackages(token *models.QrToken, packages []models.Package) error
	GetByID(id uint) (*models.QrToken, error)
	GetByRef(ref string) (*models.QrToken, error)
	GetPackages(qrID uint) ([]models.Package, error)
	// MarkExpired transitions pendiente -> expirado under a conditional
	// update. Returns true when this call performed the transition.
	MarkExpired(id uint) (bool, error)
	Count() (int64, error)
}

// SessionRepository defines the interface for validation session operations
type SessionRepository interface {
	Create(session *models.ValidationSession) error
	GetByTokenHash(hash string) (*models.ValidationSession, error)
}

// ConfirmationRepository defines the interface for confirmation persistence.
type ConfirmationRepository interface {
	// CreateWithTransition applies, in a single transaction: the conditional
	// pendiente -> terminal transition of the QR token, the confirmation
	// insert, one package confirmation per package, and the conditional
	// consume of the validation session. Fails with ErrAlreadyTerminal or
	// ErrSessionConsumed without persisting anything.
	CreateWithTransition(conf *models.Confirmation, pkgs []models.PackageConfirmation, newStatus models.QrStatus, offlineHash string) error
	GetByID(id uint) (*models.Confirmation, error)
	GetByQrID(qrID uint) (*models.Confirmation, error)
	AttachEvidence(id uint, path, checksum string) error
	ListMissingEvidence(limit int) ([]models.Confirmation, error)
}

// IncidentRepository defines the interface for incident records
type IncidentRepository interface {
	Create(incident *models.Incident) error
	GetByConfirmationID(confirmationID uint) (*models.Incident, error)
}

// OfflineEventRepository defines the interface for offline event records
type OfflineEventRepository interface {
	// UpsertByHash inserts the event or, when a row with the same
	// offline_hash exists, updates its sync state idempotently.
	UpsertByHash(event *models.OfflineEvent) error
	GetByHash(hash string) (*models.OfflineEvent, error)
}

// AuditRepository appends immutable audit entries
type AuditRepository interface {
	Append(entry *models.AuditEntry) error
	ListByEntity(entityType string, entityID uint) ([]models.AuditEntry, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	QrToken      QrTokenRepository
	Session      SessionRepository
	Confirmation ConfirmationRepository
	Incident     IncidentRepository
	OfflineEvent OfflineEventRepository
	Audit        AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		QrToken:      NewQrTokenRepository(db),
		Session:      NewSessionRepository(db),
		Confirmation: NewConfirmationRepository(db),
		Incident:     NewIncidentRepository(db),
		OfflineEvent: NewOfflineEventRepository(db),
		Audit:        NewAuditRepository(db),
	}
}
