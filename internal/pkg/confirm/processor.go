package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
	"github.com/firmaentrega/backend/internal/pkg/security"
)

const defaultRejectionReason = "Paquete no aceptado por el transportista"

// ClaimTicket is the reference returned by the external PQRS collaborator.
type ClaimTicket struct {
	ID           string `json:"id"`
	TicketNumber string `json:"ticket_number"`
}

// FileClaimRequest is what the incident creator needs to open a claim.
type FileClaimRequest struct {
	QrID              uint
	ConfirmationID    uint
	OrderID           string
	InvoiceNumber     string
	ProductReference  string
	DefectiveQuantity int
	Description       string
	ClaimantName      string
	ClaimantContact   string
	EvidenceFiles     []IncidentFile
	GuideFile         *IncidentFile
}

// FileClaimResult carries the ticket reference and the stored file paths back
// into the processor.
type FileClaimResult struct {
	Ticket        ClaimTicket
	EvidencePaths []string
	GuidePath     string
}

// ClaimFiler uploads incident evidence and opens the external claim ticket.
type ClaimFiler interface {
	FileClaim(ctx context.Context, req FileClaimRequest) (*FileClaimResult, error)
}

// EvidenceWriter renders, checksums and stores the evidence document for a
// confirmation. Regeneration for the same confirmation is idempotent.
type EvidenceWriter interface {
	Write(ctx context.Context, token *models.QrToken, conf *models.Confirmation, ticketNumber string) (path, checksum string, err error)
}

// AuditAppender records immutable audit entries. Audit failures are logged,
// never surfaced to the caller.
type AuditAppender interface {
	Append(entityType string, entityID uint, action string, meta requestmeta.RequestMeta, metadata map[string]any)
}

// Processor drives the confirmation state machine. It is stateless per
// request; the store's transactional guarantees are the only serialization
// point.
type Processor struct {
	qrTokens      repository.QrTokenRepository
	sessions      repository.SessionRepository
	confirmations repository.ConfirmationRepository
	incidents     repository.IncidentRepository
	offlineEvents repository.OfflineEventRepository
	claims        ClaimFiler
	evidence      EvidenceWriter
	audit         AuditAppender
}

// NewProcessor wires the confirmation processor.
func NewProcessor(repos *repository.Repositories, claims ClaimFiler, evidence EvidenceWriter, audit AuditAppender) *Processor {
	return &Processor{
		qrTokens:      repos.QrToken,
		sessions:      repos.Session,
		confirmations: repos.Confirmation,
		incidents:     repos.Incident,
		offlineEvents: repos.OfflineEvent,
		claims:        claims,
		evidence:      evidence,
		audit:         audit,
	}
}

// Result is the success response of one confirmation.
type Result struct {
	ConfirmationID uint                      `json:"confirmation_id"`
	QrID           uint                      `json:"qr_id"`
	OrderID        string                    `json:"order_id"`
	Result         models.ConfirmationResult `json:"result"`
	PqrsTicket     *ClaimTicket              `json:"pqrs_ticket,omitempty"`
	EvidencePdfURL string                    `json:"evidence_pdf_url,omitempty"`
	AdminPqrsURL   string                    `json:"admin_pqrs_url,omitempty"`
}

// Confirm executes the full state machine for one verified session. Any
// failure before the transactional insert leaves no trace; failures after it
// leave an authoritative confirmation whose evidence is retried separately.
func (p *Processor) Confirm(ctx context.Context, in *Input, meta requestmeta.RequestMeta) (*Result, *Error) {
	if verr := in.Validate(); verr != nil {
		return nil, verr
	}
	now := time.Now()

	// Step 1: resolve the session by the hash of the raw token. Each failure
	// condition surfaces its own message.
	session, serr := p.sessions.GetByTokenHash(security.HashToken(in.SessionTokenRaw))
	if serr != nil {
		if errors.Is(serr, gorm.ErrRecordNotFound) {
			return nil, NewError(KindUnauthorized, "invalid session token")
		}
		return nil, WrapError(KindStorage, "session lookup failed", serr)
	}
	if !session.OtpVerified {
		return nil, NewError(KindUnauthorized, "session not OTP verified")
	}
	if session.IsConsumed() {
		return nil, NewError(KindUnauthorized, "session already used")
	}
	if session.IsExpired(now) {
		return nil, NewError(KindGone, "session expired")
	}

	// Step 2: load the token; lazily expire it when past its deadline. This
	// is the idempotency boundary for live submissions: a terminal token
	// fails Conflict before any side effect re-executes.
	token, terr := p.qrTokens.GetByID(session.QrID)
	if terr != nil {
		if errors.Is(terr, gorm.ErrRecordNotFound) {
			return nil, NewError(KindNotFound, "QR token not found")
		}
		return nil, WrapError(KindStorage, "QR token lookup failed", terr)
	}
	if token.Status.IsTerminal() {
		return nil, NewError(KindConflict, "QR token already confirmed")
	}
	if token.IsExpired(now) {
		transitioned, eerr := p.qrTokens.MarkExpired(token.ID)
		if eerr != nil {
			return nil, WrapError(KindStorage, "failed to expire QR token", eerr)
		}
		if transitioned {
			p.audit.Append("qr_token", token.ID, "expired", meta, map[string]any{
				"order_id": token.OrderID,
			})
			return nil, NewError(KindGone, "QR token expired")
		}
		// a racing confirm already took the token terminal
		return nil, NewError(KindConflict, "QR token already confirmed")
	}

	// Steps 3-4: load the manifest and compute the accepted set.
	packages, perr := p.qrTokens.GetPackages(token.ID)
	if perr != nil {
		return nil, WrapError(KindStorage, "failed to load packages", perr)
	}
	plan, verr := buildAcceptancePlan(packages, in)
	if verr != nil {
		return nil, verr
	}

	// Step 6: derive the precise result.
	result := deriveResult(in, plan)

	conf := &models.Confirmation{
		QrID:                  token.ID,
		SessionID:             session.ID,
		OrderID:               token.OrderID,
		Result:                result,
		AcceptedPackagesCount: plan.acceptedCount,
		TotalPackages:         plan.totalPackages,
		DigitalSignature:      in.SignatureData,
		SignatureName:         in.SignatureName,
		LegalClauseText:       in.LegalClauseText,
		LegalAcceptedAt:       now,
		AcceptanceIP:          meta.IP,
		AcceptanceDevice:      deviceInfo(meta, in),
		GeoLat:                in.GeoLat,
		GeoLng:                in.GeoLng,
		GeoAccuracy:           in.GeoAccuracy,
		PartialReason:         in.PartialReason,
	}

	// Steps 7, 10, 11: one atomic unit. The conditional transition on the
	// token and the conditional consume of the session are the concurrency
	// guards of the whole protocol.
	cerr := p.confirmations.CreateWithTransition(conf, plan.rows, result.QrStatus(), in.OfflineHash)
	if cerr != nil {
		switch {
		case errors.Is(cerr, repository.ErrAlreadyTerminal):
			return nil, NewError(KindConflict, "QR token already confirmed")
		case errors.Is(cerr, repository.ErrSessionConsumed):
			return nil, NewError(KindUnauthorized, "session already used")
		default:
			return nil, WrapError(KindStorage, "failed to persist confirmation", cerr)
		}
	}

	res := &Result{
		ConfirmationID: conf.ID,
		QrID:           token.ID,
		OrderID:        token.OrderID,
		Result:         result,
	}

	// Step 8: open the claim when a defect was flagged. A claim filing
	// failure degrades the response but never rolls back the confirmation.
	var ticketNumber string
	if in.IncidentEnabled {
		ticket := p.fileIncident(ctx, conf, in, meta)
		if ticket != nil {
			res.PqrsTicket = ticket
			res.AdminPqrsURL = adminPqrsURL(ticket.ID)
			ticketNumber = ticket.TicketNumber
		}
	}

	// Step 9: render and store the evidence document, then attach it.
	// Failure here is the accepted degraded state; the retry job picks the
	// confirmation up later.
	if path, checksum, eerr := p.evidence.Write(ctx, token, conf, ticketNumber); eerr != nil {
		log.Warnf("[Confirm] evidence generation failed for confirmation %d: %v", conf.ID, eerr)
	} else if aerr := p.confirmations.AttachEvidence(conf.ID, path, checksum); aerr != nil {
		log.Warnf("[Confirm] failed to attach evidence to confirmation %d: %v", conf.ID, aerr)
	} else {
		conf.EvidencePdfPath = path
		conf.EvidencePdfChecksum = checksum
		res.EvidencePdfURL = path
	}

	// Step 12: record the offline event when the client captured this
	// confirmation without connectivity.
	if in.OfflineHash != "" {
		p.recordOfflineEvent(token, in, conf)
	}

	// Step 13: audit the terminal outcome.
	p.audit.Append("confirmation", conf.ID, "confirmed", meta, map[string]any{
		"qr_id":             token.ID,
		"order_id":          token.OrderID,
		"result":            string(result),
		"accepted_packages": plan.acceptedCount,
		"total_packages":    plan.totalPackages,
		"incident":          in.IncidentEnabled,
	})

	return res, nil
}

// acceptancePlan is the computed per-package decision set.
type acceptancePlan struct {
	rows          []models.PackageConfirmation
	acceptedCount int
	totalPackages int
}

// buildAcceptancePlan expands the acceptance mode into one decision per
// package of the manifest. An empty manifest is the single-package shorthand.
func buildAcceptancePlan(packages []models.Package, in *Input) (*acceptancePlan, *Error) {
	if len(packages) == 0 {
		packages = []models.Package{{PackageNumber: 1, TotalPackages: 1}}
	}
	total := len(packages)

	accepted := make(map[int]bool, total)
	switch in.AcceptanceMode {
	case ModeTotal:
		for _, pkg := range packages {
			accepted[pkg.PackageNumber] = true
		}
	case ModeParcial:
		known := make(map[int]bool, total)
		for _, pkg := range packages {
			known[pkg.PackageNumber] = true
		}
		for _, n := range in.AcceptedPackageNumbers {
			if !known[n] {
				return nil, NewError(KindValidation, fmt.Sprintf("package number %d is not part of this delivery", n))
			}
			accepted[n] = true
		}
	case ModeRechazado:
		// accepted set stays empty regardless of any supplied list
	}

	rejection := in.PartialReason
	if rejection == "" {
		rejection = defaultRejectionReason
	}

	plan := &acceptancePlan{totalPackages: total}
	for _, pkg := range packages {
		row := models.PackageConfirmation{
			PackageID:     pkg.ID,
			PackageNumber: pkg.PackageNumber,
			Accepted:      accepted[pkg.PackageNumber],
		}
		if row.Accepted {
			plan.acceptedCount++
		} else {
			reason := rejection
			row.RejectionReason = &reason
		}
		plan.rows = append(plan.rows, row)
	}
	return plan, nil
}

// deriveResult computes the precise confirmation result. Rechazado wins over
// everything, an incident wins over parcial, and an incomplete accepted set
// downgrades total to parcial.
func deriveResult(in *Input, plan *acceptancePlan) models.ConfirmationResult {
	switch {
	case in.AcceptanceMode == ModeRechazado:
		return models.ResultRechazado
	case in.IncidentEnabled:
		return models.ResultConfirmadoIncidente
	case in.AcceptanceMode == ModeParcial || plan.acceptedCount < plan.totalPackages:
		return models.ResultParcial
	default:
		return models.ResultConfirmado
	}
}

func (p *Processor) fileIncident(ctx context.Context, conf *models.Confirmation, in *Input, meta requestmeta.RequestMeta) *ClaimTicket {
	claim, err := p.claims.FileClaim(ctx, FileClaimRequest{
		QrID:              conf.QrID,
		ConfirmationID:    conf.ID,
		OrderID:           conf.OrderID,
		InvoiceNumber:     in.IncidentInvoiceNumber,
		ProductReference:  in.IncidentProductReference,
		DefectiveQuantity: in.IncidentDefectiveQuantity,
		Description:       in.IncidentDescription,
		ClaimantName:      in.ClaimantName,
		ClaimantContact:   in.ClaimantContact,
		EvidenceFiles:     in.IncidentEvidenceFiles,
		GuideFile:         in.IncidentGuideFile,
	})

	incident := &models.Incident{
		QrID:              conf.QrID,
		ConfirmationID:    conf.ID,
		OrderID:           conf.OrderID,
		InvoiceNumber:     in.IncidentInvoiceNumber,
		ProductReference:  in.IncidentProductReference,
		DefectiveQuantity: in.IncidentDefectiveQuantity,
		Description:       in.IncidentDescription,
		ClaimantName:      in.ClaimantName,
		ClaimantContact:   in.ClaimantContact,
		Status:            models.IncidentStatusAbierto,
	}

	var ticket *ClaimTicket
	if err != nil {
		log.Warnf("[Confirm] claim filing failed for confirmation %d: %v", conf.ID, err)
	} else {
		ticket = &claim.Ticket
		incident.PqrsTicketID = claim.Ticket.ID
		incident.PqrsTicketNumber = claim.Ticket.TicketNumber
		incident.GuidePhotoPath = claim.GuidePath
		if len(claim.EvidencePaths) > 0 {
			if raw, merr := json.Marshal(claim.EvidencePaths); merr == nil {
				paths := models.JSON(raw)
				incident.EvidencePhotoPaths = &paths
			}
		}
	}

	if ierr := p.incidents.Create(incident); ierr != nil {
		log.Errorf("[Confirm] failed to persist incident for confirmation %d: %v", conf.ID, ierr)
	} else {
		p.audit.Append("incident", incident.ID, "opened", meta, map[string]any{
			"confirmation_id": conf.ID,
			"order_id":        conf.OrderID,
			"pqrs_ticket_id":  incident.PqrsTicketID,
		})
	}
	return ticket
}

func (p *Processor) recordOfflineEvent(token *models.QrToken, in *Input, conf *models.Confirmation) {
	now := time.Now()
	payload, _ := json.Marshal(map[string]any{
		"confirmation_id": conf.ID,
		"result":          string(conf.Result),
	})
	raw := models.JSON(payload)
	event := &models.OfflineEvent{
		QrID:                    token.ID,
		OrderID:                 token.OrderID,
		DeviceID:                in.DeviceID,
		EventType:               "delivery_confirmation",
		EventPayload:            &raw,
		OfflineHash:             in.OfflineHash,
		CapturedAt:              in.OfflineTimestamp,
		SyncStatus:              models.SyncStatusSynced,
		SyncedAt:                &now,
		ServerValidationMessage: "confirmation accepted",
	}
	if err := p.offlineEvents.UpsertByHash(event); err != nil {
		log.Warnf("[Confirm] failed to upsert offline event %s: %v", in.OfflineHash, err)
	}
}

func deviceInfo(meta requestmeta.RequestMeta, in *Input) string {
	if in.DeviceID != "" {
		return in.DeviceID
	}
	return meta.UserAgent
}

func adminPqrsURL(ticketID string) string {
	base := env.GetEnv("ADMIN_BASE_URL", "")
	if base == "" || ticketID == "" {
		return ""
	}
	return fmt.Sprintf("%s/pqrs/%s", base, ticketID)
}
