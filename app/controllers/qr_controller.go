package controllers

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/audit"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/qrtoken"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

var (
	qrIssuer      *qrtoken.Issuer
	qrAuditLogger *audit.Logger
)

// InitializeQrController wires the issuer with the global repositories
func InitializeQrController() {
	repos := repository.GetGlobalRepositories()
	qrIssuer = qrtoken.NewIssuer(repos.QrToken)
	qrAuditLogger = audit.NewLogger(repos.Audit, "issuer")
}

// HandleIssueQrToken creates a QR token with its package manifest.
// Security: API key required via router middleware.
func HandleIssueQrToken(c *fiber.Ctx) error {
	var req qrtoken.IssueRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, confirm.NewError(confirm.KindValidation, "invalid request body"))
	}

	token, ierr := qrIssuer.Issue(req)
	if ierr != nil {
		return respondError(c, ierr)
	}

	meta := requestmeta.Get(c)
	qrAuditLogger.Append("qr_token", token.ID, "issued", meta, map[string]any{
		"order_id":       token.OrderID,
		"warehouse_id":   token.WarehouseID,
		"transporter_id": token.TransporterID,
		"packages":       len(req.Packages),
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"qr_id":      token.ID,
		"public_ref": token.PublicRef,
		"qr_url":     publicQrURL(token.PublicRef),
		"status":     token.Status,
		"issued_at":  token.IssuedAt,
		"expires_at": token.ExpiresAt,
	})
}

// HandleGetQrStatus returns the public state of a QR token by its printed
// reference. Expiration is applied lazily on read.
func HandleGetQrStatus(c *fiber.Ctx) error {
	ref := c.Params("ref")
	if ref == "" {
		return respondError(c, confirm.NewError(confirm.KindValidation, "missing QR reference"))
	}

	repos := repository.GetGlobalRepositories()
	token, err := repos.QrToken.GetByRef(ref)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, confirm.NewError(confirm.KindNotFound, "QR token not found"))
		}
		return respondError(c, confirm.WrapError(confirm.KindStorage, "QR token lookup failed", err))
	}

	now := time.Now()
	if token.Status == models.QrStatusPendiente && token.IsExpired(now) {
		if transitioned, eerr := repos.QrToken.MarkExpired(token.ID); eerr == nil && transitioned {
			token.Status = models.QrStatusExpirado
			qrAuditLogger.Append("qr_token", token.ID, "expired", requestmeta.Get(c), map[string]any{
				"order_id": token.OrderID,
			})
		}
	}

	packages, perr := repos.QrToken.GetPackages(token.ID)
	if perr != nil {
		return respondError(c, confirm.WrapError(confirm.KindStorage, "failed to load packages", perr))
	}

	manifest := make([]fiber.Map, 0, len(packages))
	for _, pkg := range packages {
		manifest = append(manifest, fiber.Map{
			"package_number": pkg.PackageNumber,
			"quantity_total": pkg.QuantityTotal,
		})
	}

	resp := fiber.Map{
		"public_ref":     token.PublicRef,
		"order_id":       token.OrderID,
		"status":         token.Status,
		"expires_at":     token.ExpiresAt,
		"total_packages": len(packages),
		"packages":       manifest,
	}
	if token.ConfirmedAt != nil {
		resp["confirmed_at"] = token.ConfirmedAt
	}
	return c.JSON(resp)
}

// publicQrURL is the URL encoded into the printed QR code.
func publicQrURL(ref string) string {
	base := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000")
	return fmt.Sprintf("%s/e/%s", base, ref)
}
