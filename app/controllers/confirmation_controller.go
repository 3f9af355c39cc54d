package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/audit"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/evidence"
	"github.com/firmaentrega/backend/internal/pkg/incident"
	"github.com/firmaentrega/backend/internal/pkg/pqrs"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
	"github.com/firmaentrega/backend/internal/pkg/s3evidence"
)

// maxIncidentFileSize caps each uploaded incident photo.
const maxIncidentFileSize = 10 * 1024 * 1024

var (
	confirmProcessor  *confirm.Processor
	evidenceGenerator *evidence.Generator
)

// InitializeConfirmationController wires the confirmation processor with the
// evidence store, the PQRS client and the global repositories.
func InitializeConfirmationController() error {
	config, err := s3evidence.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load evidence storage config: %w", err)
	}
	s3Client, err := s3evidence.NewClient(config)
	if err != nil {
		return fmt.Errorf("failed to create evidence storage client: %w", err)
	}

	repos := repository.GetGlobalRepositories()
	evidenceGenerator = evidence.NewGenerator(s3Client)
	confirmProcessor = confirm.NewProcessor(
		repos,
		incident.NewCreator(s3Client, pqrs.NewClientFromEnv()),
		evidenceGenerator,
		audit.NewLogger(repos.Audit, "courier"),
	)
	return nil
}

// HandleCreateConfirmation executes the confirmation state machine. The
// request is JSON, or multipart/form-data when incident files are attached.
func HandleCreateConfirmation(c *fiber.Ctx) error {
	input, perr := parseConfirmInput(c)
	if perr != nil {
		return respondError(c, perr)
	}

	result, err := confirmProcessor.Confirm(c.Context(), input, requestmeta.Get(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleVerifyEvidence recomputes the checksum of the stored evidence
// document and compares it with the one persisted at generation time.
func HandleVerifyEvidence(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return respondError(c, confirm.NewError(confirm.KindValidation, "invalid confirmation id"))
	}

	repos := repository.GetGlobalRepositories()
	conf, gerr := repos.Confirmation.GetByID(uint(id))
	if gerr != nil {
		if errors.Is(gerr, gorm.ErrRecordNotFound) {
			return respondError(c, confirm.NewError(confirm.KindNotFound, "confirmation not found"))
		}
		return respondError(c, confirm.WrapError(confirm.KindStorage, "confirmation lookup failed", gerr))
	}
	if !conf.HasEvidence() {
		return respondError(c, confirm.NewError(confirm.KindNotFound, "confirmation has no evidence attached"))
	}

	valid, actual, verr := evidenceGenerator.Verify(c.Context(), conf)
	if verr != nil {
		return respondError(c, confirm.WrapError(confirm.KindStorage, "evidence verification failed", verr))
	}

	return c.JSON(fiber.Map{
		"confirmation_id":   conf.ID,
		"evidence_pdf_path": conf.EvidencePdfPath,
		"stored_checksum":   conf.EvidencePdfChecksum,
		"actual_checksum":   actual,
		"valid":             valid,
	})
}

// confirmRequest is the JSON shape of the confirm operation.
type confirmRequest struct {
	SessionToken           string     `json:"session_token"`
	AcceptanceMode         string     `json:"acceptance_mode"`
	AcceptedPackageNumbers []int      `json:"accepted_package_numbers"`
	SignatureData          string     `json:"signature_data"`
	SignatureName          string     `json:"signature_name"`
	LegalClauseText        string     `json:"legal_clause_text"`
	LegalAccepted          bool       `json:"legal_accepted"`
	GeoLat                 *float64   `json:"geo_lat"`
	GeoLng                 *float64   `json:"geo_lng"`
	GeoAccuracy            float64    `json:"geo_accuracy"`
	DeviceID               string     `json:"device_id"`
	PartialReason          string     `json:"partial_reason"`
	IncidentEnabled        bool       `json:"incident_enabled"`
	IncidentInvoiceNumber  string     `json:"incident_invoice_number"`
	IncidentProductRef     string     `json:"incident_product_reference"`
	IncidentDefectiveQty   int        `json:"incident_defective_quantity"`
	IncidentDescription    string     `json:"incident_description"`
	ClaimantName           string     `json:"claimant_name"`
	ClaimantContact        string     `json:"claimant_contact"`
	OfflineHash            string     `json:"offline_hash"`
	OfflineTimestamp       *time.Time `json:"offline_timestamp"`
}

func parseConfirmInput(c *fiber.Ctx) (*confirm.Input, *confirm.Error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return parseMultipartConfirmInput(c)
	}

	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, confirm.NewError(confirm.KindValidation, "invalid request body")
	}
	return req.toInput(), nil
}

func (req *confirmRequest) toInput() *confirm.Input {
	in := &confirm.Input{
		SessionTokenRaw:           req.SessionToken,
		AcceptanceMode:            confirm.AcceptanceMode(req.AcceptanceMode),
		AcceptedPackageNumbers:    req.AcceptedPackageNumbers,
		SignatureData:             req.SignatureData,
		SignatureName:             req.SignatureName,
		LegalClauseText:           req.LegalClauseText,
		LegalAccepted:             req.LegalAccepted,
		GeoAccuracy:               req.GeoAccuracy,
		DeviceID:                  req.DeviceID,
		PartialReason:             req.PartialReason,
		IncidentEnabled:           req.IncidentEnabled,
		IncidentInvoiceNumber:     req.IncidentInvoiceNumber,
		IncidentProductReference:  req.IncidentProductRef,
		IncidentDefectiveQuantity: req.IncidentDefectiveQty,
		IncidentDescription:       req.IncidentDescription,
		ClaimantName:              req.ClaimantName,
		ClaimantContact:           req.ClaimantContact,
		OfflineHash:               req.OfflineHash,
		OfflineTimestamp:          req.OfflineTimestamp,
	}
	if req.GeoLat != nil && req.GeoLng != nil {
		in.HasGeo = true
		in.GeoLat = *req.GeoLat
		in.GeoLng = *req.GeoLng
	}
	return in
}

// parseMultipartConfirmInput reads the confirm fields from form values and
// the incident photos from the attached files.
func parseMultipartConfirmInput(c *fiber.Ctx) (*confirm.Input, *confirm.Error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, confirm.NewError(confirm.KindValidation, "invalid multipart form")
	}

	value := func(key string) string {
		if vals, ok := form.Value[key]; ok && len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}

	req := confirmRequest{
		SessionToken:          value("session_token"),
		AcceptanceMode:        value("acceptance_mode"),
		SignatureData:         value("signature_data"),
		SignatureName:         value("signature_name"),
		LegalClauseText:       value("legal_clause_text"),
		LegalAccepted:         value("legal_accepted") == "true",
		DeviceID:              value("device_id"),
		PartialReason:         value("partial_reason"),
		IncidentEnabled:       value("incident_enabled") == "true",
		IncidentInvoiceNumber: value("incident_invoice_number"),
		IncidentProductRef:    value("incident_product_reference"),
		IncidentDescription:   value("incident_description"),
		ClaimantName:          value("claimant_name"),
		ClaimantContact:       value("claimant_contact"),
		OfflineHash:           value("offline_hash"),
	}

	if lat, lerr := strconv.ParseFloat(value("geo_lat"), 64); lerr == nil {
		if lng, gerr := strconv.ParseFloat(value("geo_lng"), 64); gerr == nil {
			req.GeoLat = &lat
			req.GeoLng = &lng
		}
	}
	if acc, aerr := strconv.ParseFloat(value("geo_accuracy"), 64); aerr == nil {
		req.GeoAccuracy = acc
	}
	if qty, qerr := strconv.Atoi(value("incident_defective_quantity")); qerr == nil {
		req.IncidentDefectiveQty = qty
	}
	for _, raw := range form.Value["accepted_package_numbers"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, nerr := strconv.Atoi(part)
			if nerr != nil {
				return nil, confirm.NewError(confirm.KindValidation, fmt.Sprintf("invalid package number %q", part))
			}
			req.AcceptedPackageNumbers = append(req.AcceptedPackageNumbers, n)
		}
	}
	if ts := value("offline_timestamp"); ts != "" {
		parsed, terr := time.Parse(time.RFC3339, ts)
		if terr != nil {
			return nil, confirm.NewError(confirm.KindValidation, "offline_timestamp must be RFC 3339")
		}
		req.OfflineTimestamp = &parsed
	}

	in := req.toInput()

	for _, header := range form.File["incident_evidence_files"] {
		file, ferr := readIncidentFile(header)
		if ferr != nil {
			return nil, ferr
		}
		in.IncidentEvidenceFiles = append(in.IncidentEvidenceFiles, *file)
	}
	if headers := form.File["incident_guide_file"]; len(headers) > 0 {
		file, ferr := readIncidentFile(headers[0])
		if ferr != nil {
			return nil, ferr
		}
		in.IncidentGuideFile = file
	}

	return in, nil
}

func readIncidentFile(header *multipart.FileHeader) (*confirm.IncidentFile, *confirm.Error) {
	if header.Size > maxIncidentFileSize {
		return nil, confirm.NewError(confirm.KindValidation, fmt.Sprintf("file %s exceeds the size limit", header.Filename))
	}

	f, err := header.Open()
	if err != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to open uploaded file", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, confirm.WrapError(confirm.KindStorage, "failed to read uploaded file", err)
	}

	return &confirm.IncidentFile{
		FileName:    header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Data:        data,
	}, nil
}
