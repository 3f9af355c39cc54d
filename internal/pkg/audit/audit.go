package audit

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

// Logger appends immutable audit entries for every state-changing action.
// Audit writes are best-effort: a failed append is logged and never blocks
// the operation it describes.
type Logger struct {
	repo      repository.AuditRepository
	actorType string
}

// NewLogger creates an audit logger writing entries for the given actor
// type (e.g. "transportista", "sistema").
func NewLogger(repo repository.AuditRepository, actorType string) *Logger {
	return &Logger{repo: repo, actorType: actorType}
}

// Append records one audit entry built from the request metadata.
func (l *Logger) Append(entityType string, entityID uint, action string, meta requestmeta.RequestMeta, metadata map[string]any) {
	entry := &models.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorType:  l.actorType,
		RequestID:  meta.RequestID,
		IPAddress:  meta.IP,
		DeviceInfo: meta.UserAgent,
	}
	if len(metadata) > 0 {
		if raw, err := json.Marshal(metadata); err == nil {
			payload := models.JSON(raw)
			entry.Metadata = &payload
		}
	}

	if err := l.repo.Append(entry); err != nil {
		log.Errorf("[Audit] failed to append %s/%d %s: %v", entityType, entityID, action, err)
	}
}
