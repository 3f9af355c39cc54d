package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/firmaentrega/backend/app/models"
)

// ObjectStore is the write-once evidence bucket. Implemented by s3evidence.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Generator renders evidence documents, checksums them and stores them in
// the evidence bucket. Rendering is deterministic: regenerating the document
// for the same confirmation yields the same bytes, key and checksum, which
// makes the retry path idempotent.
type Generator struct {
	store ObjectStore
}

// NewGenerator creates a new evidence generator.
func NewGenerator(store ObjectStore) *Generator {
	return &Generator{store: store}
}

// Write renders the evidence PDF for a confirmation, stores it under the
// deterministic key {qr_id}/{confirmation_id}/evidencia-{timestamp}.pdf and
// returns the key and the hex SHA-256 of the stored bytes.
func (g *Generator) Write(ctx context.Context, token *models.QrToken, conf *models.Confirmation, ticketNumber string) (string, string, error) {
	doc := BuildDocument(token, conf, ticketNumber)
	data := doc.Render()
	checksum := Checksum(data)

	key := ObjectKey(conf.QrID, conf.ID, conf.LegalAcceptedAt)
	if err := g.store.PutObject(ctx, key, data, "application/pdf"); err != nil {
		return "", "", fmt.Errorf("failed to store evidence document: %w", err)
	}
	return key, checksum, nil
}

// Verify downloads the stored document and recomputes its checksum. A
// mismatch indicates tampering or corruption.
func (g *Generator) Verify(ctx context.Context, conf *models.Confirmation) (bool, string, error) {
	if !conf.HasEvidence() {
		return false, "", fmt.Errorf("confirmation %d has no evidence attached", conf.ID)
	}
	data, err := g.store.GetObject(ctx, conf.EvidencePdfPath)
	if err != nil {
		return false, "", fmt.Errorf("failed to fetch evidence document: %w", err)
	}
	actual := Checksum(data)
	return actual == conf.EvidencePdfChecksum, actual, nil
}

// ObjectKey is the deterministic storage key of a confirmation's evidence.
// The timestamp comes from the legal acceptance instant, so retries land on
// the same object.
func ObjectKey(qrID, confirmationID uint, acceptedAt time.Time) string {
	return fmt.Sprintf("%d/%d/evidencia-%s.pdf", qrID, confirmationID, acceptedAt.UTC().Format("20060102T150405Z"))
}

// Checksum returns the hex encoded SHA-256 digest of the document bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BuildDocument collects the structured key/value lines describing the
// delivery outcome.
func BuildDocument(token *models.QrToken, conf *models.Confirmation, ticketNumber string) *Document {
	doc := &Document{Title: "Acta de entrega"}
	doc.AddLine("Fecha", conf.LegalAcceptedAt.UTC().Format(time.RFC3339))
	doc.AddLine("Pedido", conf.OrderID)
	doc.AddLine("Bodega", token.WarehouseID)
	doc.AddLine("Transportadora", token.TransporterID)
	if token.DeliveryBatchID != "" {
		doc.AddLine("Lote de despacho", token.DeliveryBatchID)
	}
	doc.AddLine("Resultado", string(conf.Result))
	doc.AddLine("Paquetes aceptados", fmt.Sprintf("%d de %d", conf.AcceptedPackagesCount, conf.TotalPackages))
	if conf.PartialReason != "" {
		doc.AddLine("Motivo parcial", conf.PartialReason)
	}
	doc.AddLine("IP del solicitante", conf.AcceptanceIP)
	doc.AddLine("Geolocalizacion", fmt.Sprintf("%.6f, %.6f (radio %.1f m)", conf.GeoLat, conf.GeoLng, conf.GeoAccuracy))
	doc.AddLine("Firmante", conf.SignatureName)
	if ticketNumber != "" {
		doc.AddLine("Ticket PQRS", ticketNumber)
	}
	if conf.LegalClauseText != "" {
		doc.AddLine("Clausula legal", conf.LegalClauseText)
	}
	return doc
}
