package incident

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/evidence"
	"github.com/firmaentrega/backend/internal/pkg/pqrs"
)

// ClaimOpener is the external ticketing collaborator contract.
type ClaimOpener interface {
	OpenClaim(ctx context.Context, req pqrs.ClaimRequest) (*pqrs.ClaimResponse, error)
}

// Creator uploads incident evidence to the document store and opens the
// claim ticket with the external PQRS collaborator. It implements
// confirm.ClaimFiler.
type Creator struct {
	store  evidence.ObjectStore
	claims ClaimOpener
}

// NewCreator wires the incident creator.
func NewCreator(store evidence.ObjectStore, claims ClaimOpener) *Creator {
	return &Creator{store: store, claims: claims}
}

// FileClaim uploads each evidence file and the guide file, then opens the
// claim ticket with the stored paths. The confirm flow blocks on this call.
func (c *Creator) FileClaim(ctx context.Context, req confirm.FileClaimRequest) (*confirm.FileClaimResult, error) {
	evidencePaths := make([]string, 0, len(req.EvidenceFiles))
	for i, file := range req.EvidenceFiles {
		key := objectKey(req.QrID, req.ConfirmationID, fmt.Sprintf("evidencia-%02d", i+1), file.FileName)
		if err := c.store.PutObject(ctx, key, file.Data, contentType(file)); err != nil {
			return nil, fmt.Errorf("failed to upload incident evidence %s: %w", file.FileName, err)
		}
		evidencePaths = append(evidencePaths, key)
	}

	guideKey := objectKey(req.QrID, req.ConfirmationID, "guia", req.GuideFile.FileName)
	if err := c.store.PutObject(ctx, guideKey, req.GuideFile.Data, contentType(*req.GuideFile)); err != nil {
		return nil, fmt.Errorf("failed to upload guide photo: %w", err)
	}

	ticket, err := c.claims.OpenClaim(ctx, pqrs.ClaimRequest{
		OrderID:           req.OrderID,
		InvoiceNumber:     req.InvoiceNumber,
		ProductReference:  req.ProductReference,
		DefectiveQuantity: req.DefectiveQuantity,
		Description:       req.Description,
		ClaimantName:      req.ClaimantName,
		ClaimantContact:   req.ClaimantContact,
		EvidencePaths:     evidencePaths,
		GuidePath:         guideKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open claim ticket: %w", err)
	}

	return &confirm.FileClaimResult{
		Ticket: confirm.ClaimTicket{
			ID:           ticket.TicketID,
			TicketNumber: ticket.TicketNumber,
		},
		EvidencePaths: evidencePaths,
		GuidePath:     guideKey,
	}, nil
}

// objectKey builds the incident document key under the owning confirmation.
func objectKey(qrID, confirmationID uint, label, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%d/%d/incidente/%s%s", qrID, confirmationID, label, ext)
}

func contentType(file confirm.IncidentFile) string {
	if file.ContentType != "" {
		return file.ContentType
	}
	return "application/octet-stream"
}
