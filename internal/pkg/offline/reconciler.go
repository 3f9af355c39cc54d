package offline

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

// Event is one locally-captured confirmation event awaiting reconciliation.
type Event struct {
	QrRef        string          `json:"qr_ref" validate:"required"`
	OrderID      string          `json:"order_id"`
	DeviceID     string          `json:"device_id"`
	EventType    string          `json:"event_type" validate:"required"`
	EventPayload json.RawMessage `json:"event_payload,omitempty"`
	OfflineHash  string          `json:"offline_hash" validate:"required"`
	CapturedAt   *time.Time      `json:"captured_at,omitempty"`
}

// Outcome reports the reconciliation result for one event.
type Outcome struct {
	OfflineHash string            `json:"offline_hash"`
	SyncStatus  models.SyncStatus `json:"sync_status"`
	Message     string            `json:"message"`
}

// Reconciler merges client-buffered offline events into the authoritative
// store. It never re-runs confirmation business logic: the confirmation a
// hash describes must already have been persisted through the live confirm
// path. The reconciler only records that the server accepted the hash so
// the client can discard its local copy.
type Reconciler struct {
	qrTokens      repository.QrTokenRepository
	confirmations repository.ConfirmationRepository
	offlineEvents repository.OfflineEventRepository
	audit         confirm.AuditAppender
}

// NewReconciler wires the offline reconciler.
func NewReconciler(repos *repository.Repositories, audit confirm.AuditAppender) *Reconciler {
	return &Reconciler{
		qrTokens:      repos.QrToken,
		confirmations: repos.Confirmation,
		offlineEvents: repos.OfflineEvent,
		audit:         audit,
	}
}

// Reconcile upserts one event keyed by its offline hash. Replays of the
// same hash update the existing row; no duplicate rows, no duplicate side
// effects. Events whose QR token has no confirmation yet stay pending: the
// device must replay the confirmation through the live confirm path first.
func (r *Reconciler) Reconcile(event Event, meta requestmeta.RequestMeta) (*Outcome, *confirm.Error) {
	if event.OfflineHash == "" {
		return nil, confirm.NewError(confirm.KindValidation, "offline_hash is required")
	}
	if event.QrRef == "" {
		return nil, confirm.NewError(confirm.KindValidation, "qr_ref is required")
	}

	token, terr := r.qrTokens.GetByRef(event.QrRef)
	if terr != nil {
		if errors.Is(terr, gorm.ErrRecordNotFound) {
			return nil, confirm.NewError(confirm.KindNotFound, "QR token not found")
		}
		return nil, confirm.WrapError(confirm.KindStorage, "QR token lookup failed", terr)
	}

	now := time.Now()
	row := &models.OfflineEvent{
		QrID:        token.ID,
		OrderID:     token.OrderID,
		DeviceID:    event.DeviceID,
		EventType:   event.EventType,
		OfflineHash: event.OfflineHash,
		CapturedAt:  event.CapturedAt,
	}
	if len(event.EventPayload) > 0 {
		payload := models.JSON(event.EventPayload)
		row.EventPayload = &payload
	}

	// The hash is accepted only once the confirmation it describes is
	// durably persisted; another device may have won the race, in which
	// case this client's local state must still be discarded.
	if _, cerr := r.confirmations.GetByQrID(token.ID); cerr != nil {
		if !errors.Is(cerr, gorm.ErrRecordNotFound) {
			return nil, confirm.WrapError(confirm.KindStorage, "confirmation lookup failed", cerr)
		}
		row.SyncStatus = models.SyncStatusPending
		row.ServerValidationMessage = "no confirmation recorded yet, replay the confirm call"
	} else {
		row.SyncStatus = models.SyncStatusSynced
		row.SyncedAt = &now
		row.ServerValidationMessage = "confirmation accepted"
	}

	if uerr := r.offlineEvents.UpsertByHash(row); uerr != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to upsert offline event", uerr)
	}

	r.audit.Append("offline_event", token.ID, "reconciled", meta, map[string]any{
		"offline_hash": event.OfflineHash,
		"device_id":    event.DeviceID,
		"sync_status":  string(row.SyncStatus),
	})

	return &Outcome{
		OfflineHash: event.OfflineHash,
		SyncStatus:  row.SyncStatus,
		Message:     row.ServerValidationMessage,
	}, nil
}

// ReconcileBatch processes a batch of events independently; one bad event
// does not abort the rest.
func (r *Reconciler) ReconcileBatch(events []Event, meta requestmeta.RequestMeta) []Outcome {
	outcomes := make([]Outcome, 0, len(events))
	for _, event := range events {
		outcome, err := r.Reconcile(event, meta)
		if err != nil {
			outcomes = append(outcomes, Outcome{
				OfflineHash: event.OfflineHash,
				SyncStatus:  models.SyncStatusPending,
				Message:     err.Message,
			})
			continue
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes
}
