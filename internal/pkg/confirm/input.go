package confirm

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// AcceptanceMode is how the courier scoped the acceptance decision.
type AcceptanceMode string

const (
	ModeTotal     AcceptanceMode = "total"
	ModeParcial   AcceptanceMode = "parcial"
	ModeRechazado AcceptanceMode = "rechazado"
)

// IncidentFile is one uploaded evidence or guide document.
type IncidentFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Input carries one confirmation request into the processor. The session
// token arrives raw; only its hash is ever used for lookups.
type Input struct {
	SessionTokenRaw        string         `validate:"required"`
	AcceptanceMode         AcceptanceMode `validate:"required,oneof=total parcial rechazado"`
	AcceptedPackageNumbers []int
	SignatureData          string `validate:"required"`
	SignatureName          string `validate:"max=150"`
	LegalClauseText        string
	LegalAccepted          bool `validate:"eq=true"`
	GeoLat                 float64
	GeoLng                 float64
	GeoAccuracy            float64
	HasGeo                 bool
	DeviceID               string
	PartialReason          string

	IncidentEnabled           bool
	IncidentInvoiceNumber     string
	IncidentProductReference  string
	IncidentDefectiveQuantity int
	IncidentDescription       string
	ClaimantName              string
	ClaimantContact           string
	IncidentEvidenceFiles     []IncidentFile
	IncidentGuideFile         *IncidentFile

	OfflineHash      string
	OfflineTimestamp *time.Time
}

var validate = validator.New()

// Validate checks everything that does not need database state. Cross-field
// rules the struct tags cannot express are checked by hand.
func (in *Input) Validate() *Error {
	if err := validate.Struct(in); err != nil {
		return WrapError(KindValidation, "invalid confirmation input", err)
	}
	if !in.LegalAccepted {
		return NewError(KindValidation, "legal clause must be accepted")
	}
	if !in.HasGeo {
		return NewError(KindValidation, "geolocation is required")
	}
	if in.GeoLat < -90 || in.GeoLat > 90 || in.GeoLng < -180 || in.GeoLng > 180 {
		return NewError(KindValidation, "geolocation out of range")
	}

	switch in.AcceptanceMode {
	case ModeParcial:
		if len(in.AcceptedPackageNumbers) == 0 {
			return NewError(KindValidation, "parcial acceptance requires a non-empty accepted package list")
		}
		for _, n := range in.AcceptedPackageNumbers {
			if n <= 0 {
				return NewError(KindValidation, fmt.Sprintf("invalid package number %d", n))
			}
		}
	case ModeTotal, ModeRechazado:
		// accepted list is derived, not supplied
	}

	if in.IncidentEnabled {
		if in.IncidentInvoiceNumber == "" {
			return NewError(KindValidation, "incident requires an invoice number")
		}
		if in.IncidentProductReference == "" {
			return NewError(KindValidation, "incident requires a product reference")
		}
		if in.IncidentDefectiveQuantity <= 0 {
			return NewError(KindValidation, "incident requires a defective quantity greater than zero")
		}
		if len(in.IncidentEvidenceFiles) == 0 {
			return NewError(KindValidation, "incident requires at least one evidence photo")
		}
		if in.IncidentGuideFile == nil {
			return NewError(KindValidation, "incident requires exactly one guide photo")
		}
	}

	return nil
}
