package qrtoken

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
)

// ManifestEntry describes one parcel of the delivery manifest.
type ManifestEntry struct {
	PackageNumber   int            `json:"package_number" validate:"required,min=1"`
	TotalPackages   int            `json:"total_packages" validate:"required,min=1"`
	QuantityTotal   int            `json:"quantity_total" validate:"required,min=1"`
	SkuDistribution map[string]int `json:"sku_distribution,omitempty"`
}

// IssueRequest is the input of the issuer.
type IssueRequest struct {
	OrderID         string          `json:"order_id" validate:"required,max=64"`
	WarehouseID     string          `json:"warehouse_id" validate:"required,max=64"`
	TransporterID   string          `json:"transporter_id" validate:"required,max=64"`
	DeliveryBatchID string          `json:"delivery_batch_id" validate:"max=64"`
	ExpiresInHours  int             `json:"expires_in_hours"`
	Packages        []ManifestEntry `json:"packages" validate:"required,min=1,dive"`
}

// Issuer creates QR tokens with their package manifests.
type Issuer struct {
	qrTokens repository.QrTokenRepository
}

// NewIssuer creates a new issuer.
func NewIssuer(qrTokens repository.QrTokenRepository) *Issuer {
	return &Issuer{qrTokens: qrTokens}
}

const defaultExpiryHours = 72

// Issue validates the manifest and creates the token plus its package rows
// as one transactional unit. The returned token carries the public
// reference safe to print on a physical label.
func (i *Issuer) Issue(req IssueRequest) (*models.QrToken, *confirm.Error) {
	if verr := validateManifest(req.Packages); verr != nil {
		return nil, verr
	}
	if req.OrderID == "" || req.WarehouseID == "" || req.TransporterID == "" {
		return nil, confirm.NewError(confirm.KindValidation, "order, warehouse and transporter are required")
	}

	hours := req.ExpiresInHours
	if hours <= 0 {
		hours = defaultExpiryHours
	}
	now := time.Now()

	token := &models.QrToken{
		OrderID:         req.OrderID,
		WarehouseID:     req.WarehouseID,
		TransporterID:   req.TransporterID,
		DeliveryBatchID: req.DeliveryBatchID,
		Status:          models.QrStatusPendiente,
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Duration(hours) * time.Hour),
	}

	packages := make([]models.Package, 0, len(req.Packages))
	for _, entry := range req.Packages {
		pkg := models.Package{
			PackageNumber: entry.PackageNumber,
			TotalPackages: entry.TotalPackages,
			QuantityTotal: entry.QuantityTotal,
		}
		if len(entry.SkuDistribution) > 0 {
			if raw, err := json.Marshal(entry.SkuDistribution); err == nil {
				dist := models.JSON(raw)
				pkg.SkuDistribution = &dist
			}
		}
		packages = append(packages, pkg)
	}

	if err := i.qrTokens.CreateWithPackages(token, packages); err != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to create QR token", err)
	}
	return token, nil
}

// validateManifest requires a non-empty manifest whose package numbers form
// a contiguous 1..N set matching total_packages.
func validateManifest(entries []ManifestEntry) *confirm.Error {
	if len(entries) == 0 {
		return confirm.NewError(confirm.KindValidation, "package manifest must not be empty")
	}
	total := len(entries)
	seen := make(map[int]bool, total)
	for _, entry := range entries {
		if entry.PackageNumber < 1 || entry.PackageNumber > total {
			return confirm.NewError(confirm.KindValidation, fmt.Sprintf("package number %d is outside 1..%d", entry.PackageNumber, total))
		}
		if seen[entry.PackageNumber] {
			return confirm.NewError(confirm.KindValidation, fmt.Sprintf("duplicate package number %d", entry.PackageNumber))
		}
		seen[entry.PackageNumber] = true
		if entry.TotalPackages != total {
			return confirm.NewError(confirm.KindValidation, fmt.Sprintf("total_packages %d does not match manifest size %d", entry.TotalPackages, total))
		}
		if entry.QuantityTotal <= 0 {
			return confirm.NewError(confirm.KindValidation, fmt.Sprintf("package %d requires a positive quantity", entry.PackageNumber))
		}
	}
	return nil
}
