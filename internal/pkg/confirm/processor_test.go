package confirm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
	"github.com/firmaentrega/backend/internal/pkg/security"
)

// store is an in-memory stand-in for the repository layer. It replicates the
// conditional guards of the real transaction: a terminal token and a consumed
// session both abort the insert without side effects.
type store struct {
	token    *models.QrToken
	packages []models.Package
	session  *models.ValidationSession

	confirmation *models.Confirmation
	pkgRows      []models.PackageConfirmation
	incidents    []*models.Incident
	events       map[string]*models.OfflineEvent
	attachedPath string
	nextConfID   uint
}

func newStore() *store {
	return &store{events: make(map[string]*models.OfflineEvent), nextConfID: 100}
}

// QrTokenRepository

func (s *store) CreateWithPackages(*models.QrToken, []models.Package) error { return nil }

func (s *store) GetByID(id uint) (*models.QrToken, error) {
	if s.token == nil || s.token.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.token
	return &copied, nil
}

func (s *store) GetByRef(ref string) (*models.QrToken, error) {
	if s.token == nil || s.token.PublicRef != ref {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.token
	return &copied, nil
}

func (s *store) GetPackages(uint) ([]models.Package, error) { return s.packages, nil }

func (s *store) MarkExpired(id uint) (bool, error) {
	if s.token == nil || s.token.ID != id || s.token.Status != models.QrStatusPendiente {
		return false, nil
	}
	s.token.Status = models.QrStatusExpirado
	return true, nil
}

func (s *store) Count() (int64, error) { return 0, nil }

// SessionRepository

func (s *store) Create(session *models.ValidationSession) error { return nil }

func (s *store) GetByTokenHash(hash string) (*models.ValidationSession, error) {
	if s.session == nil || s.session.SessionTokenHash != hash {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.session
	return &copied, nil
}

func (s *store) CreateWithTransition(conf *models.Confirmation, pkgs []models.PackageConfirmation, newStatus models.QrStatus, offlineHash string) error {
	if s.token == nil || s.token.Status != models.QrStatusPendiente {
		return repository.ErrAlreadyTerminal
	}
	if s.session != nil && s.session.ConsumedAt != nil {
		return repository.ErrSessionConsumed
	}
	now := time.Now()
	s.token.Status = newStatus
	s.token.ConfirmedAt = &now
	if s.session != nil {
		s.session.ConsumedAt = &now
	}
	conf.ID = s.nextConfID
	s.nextConfID++
	s.confirmation = conf
	s.pkgRows = pkgs
	return nil
}

func (s *store) GetByQrID(qrID uint) (*models.Confirmation, error) {
	if s.confirmation == nil || s.confirmation.QrID != qrID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.confirmation, nil
}

func (s *store) AttachEvidence(id uint, path, checksum string) error {
	s.attachedPath = path
	return nil
}

func (s *store) ListMissingEvidence(int) ([]models.Confirmation, error) { return nil, nil }

// IncidentRepository

func (s *store) CreateIncident(incident *models.Incident) error {
	incident.ID = uint(len(s.incidents) + 1)
	s.incidents = append(s.incidents, incident)
	return nil
}

func (s *store) GetByConfirmationID(uint) (*models.Incident, error) {
	return nil, gorm.ErrRecordNotFound
}

// OfflineEventRepository

func (s *store) UpsertByHash(event *models.OfflineEvent) error {
	s.events[event.OfflineHash] = event
	return nil
}

func (s *store) GetByHash(hash string) (*models.OfflineEvent, error) {
	event, ok := s.events[hash]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return event, nil
}

// confirmationAdapter exposes the confirmation interface of the shared
// store; the store itself cannot carry it because of the GetByID clash with
// the token interface.
type confirmationAdapter struct{ s *store }

func (a confirmationAdapter) CreateWithTransition(conf *models.Confirmation, pkgs []models.PackageConfirmation, newStatus models.QrStatus, offlineHash string) error {
	return a.s.CreateWithTransition(conf, pkgs, newStatus, offlineHash)
}

func (a confirmationAdapter) GetByID(id uint) (*models.Confirmation, error) {
	if a.s.confirmation == nil || a.s.confirmation.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return a.s.confirmation, nil
}

func (a confirmationAdapter) GetByQrID(qrID uint) (*models.Confirmation, error) {
	return a.s.GetByQrID(qrID)
}

func (a confirmationAdapter) AttachEvidence(id uint, path, checksum string) error {
	return a.s.AttachEvidence(id, path, checksum)
}

func (a confirmationAdapter) ListMissingEvidence(limit int) ([]models.Confirmation, error) {
	return a.s.ListMissingEvidence(limit)
}

// incidentAdapter maps the repository interface onto the shared store.
type incidentAdapter struct{ s *store }

func (a incidentAdapter) Create(incident *models.Incident) error { return a.s.CreateIncident(incident) }
func (a incidentAdapter) GetByConfirmationID(id uint) (*models.Incident, error) {
	return a.s.GetByConfirmationID(id)
}

type stubClaimFiler struct {
	result *FileClaimResult
	err    error
	calls  int
}

func (f *stubClaimFiler) FileClaim(ctx context.Context, req FileClaimRequest) (*FileClaimResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type stubEvidenceWriter struct {
	err   error
	calls int
}

func (w *stubEvidenceWriter) Write(ctx context.Context, token *models.QrToken, conf *models.Confirmation, ticketNumber string) (string, string, error) {
	w.calls++
	if w.err != nil {
		return "", "", w.err
	}
	return fmt.Sprintf("%d/%d/evidencia.pdf", token.ID, conf.ID), "abc123", nil
}

type stubAudit struct {
	actions []string
}

func (a *stubAudit) Append(_ string, _ uint, action string, _ requestmeta.RequestMeta, _ map[string]any) {
	a.actions = append(a.actions, action)
}

const rawSessionToken = "test-session-token"

func seededStore(pkgCount int) *store {
	s := newStore()
	now := time.Now()
	s.token = &models.QrToken{
		ID:            1,
		PublicRef:     "ref-1",
		OrderID:       "PED-2024-001",
		WarehouseID:   "BOD-01",
		TransporterID: "TR-05",
		Status:        models.QrStatusPendiente,
		IssuedAt:      now.Add(-time.Hour),
		ExpiresAt:     now.Add(24 * time.Hour),
	}
	for i := 1; i <= pkgCount; i++ {
		s.packages = append(s.packages, models.Package{
			ID:            uint(i),
			QrID:          1,
			PackageNumber: i,
			TotalPackages: pkgCount,
			QuantityTotal: 10,
		})
	}
	s.session = &models.ValidationSession{
		ID:               5,
		QrID:             1,
		OtpVerified:      true,
		SessionTokenHash: security.HashToken(rawSessionToken),
		ExpiresAt:        now.Add(30 * time.Minute),
	}
	return s
}

func newTestProcessor(s *store, claims ClaimFiler, evidence EvidenceWriter) (*Processor, *stubAudit) {
	if claims == nil {
		claims = &stubClaimFiler{result: &FileClaimResult{Ticket: ClaimTicket{ID: "t-1", TicketNumber: "PQRS-001"}}}
	}
	if evidence == nil {
		evidence = &stubEvidenceWriter{}
	}
	audit := &stubAudit{}
	repos := &repository.Repositories{
		QrToken:      s,
		Session:      s,
		Confirmation: confirmationAdapter{s},
		Incident:     incidentAdapter{s},
		OfflineEvent: s,
	}
	return NewProcessor(repos, claims, evidence, audit), audit
}

func validInput() *Input {
	return &Input{
		SessionTokenRaw: rawSessionToken,
		AcceptanceMode:  ModeTotal,
		SignatureData:   "data:image/png;base64,iVBORw0KGgo=",
		SignatureName:   "Juan Pérez",
		LegalClauseText: "Acepto la entrega en conformidad.",
		LegalAccepted:   true,
		HasGeo:          true,
		GeoLat:          4.60971,
		GeoLng:          -74.08175,
		GeoAccuracy:     12.5,
		DeviceID:        "device-9",
	}
}

func TestConfirmTotalAcceptance(t *testing.T) {
	t.Parallel()

	s := seededStore(3)
	p, audit := newTestProcessor(s, nil, nil)

	res, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{IP: "10.0.0.1"})
	require.Nil(t, err)

	assert.Equal(t, models.ResultConfirmado, res.Result)
	assert.Equal(t, models.QrStatusConfirmado, s.token.Status)
	assert.NotNil(t, s.token.ConfirmedAt)
	assert.NotNil(t, s.session.ConsumedAt)
	require.Len(t, s.pkgRows, 3)
	for _, row := range s.pkgRows {
		assert.True(t, row.Accepted)
		assert.Nil(t, row.RejectionReason)
	}
	assert.Equal(t, 3, s.confirmation.AcceptedPackagesCount)
	assert.Equal(t, "10.0.0.1", s.confirmation.AcceptanceIP)
	assert.NotEmpty(t, res.EvidencePdfURL)
	assert.Contains(t, audit.actions, "confirmed")
}

func TestConfirmPartialAcceptance(t *testing.T) {
	t.Parallel()

	s := seededStore(3)
	p, _ := newTestProcessor(s, nil, nil)

	in := validInput()
	in.AcceptanceMode = ModeParcial
	in.AcceptedPackageNumbers = []int{1, 3}
	in.PartialReason = "Caja 2 llegó abierta"

	res, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultParcial, res.Result)
	// parcial keeps the token in the coarse confirmado state
	assert.Equal(t, models.QrStatusConfirmado, s.token.Status)

	decisions := make(map[int]models.PackageConfirmation, 3)
	for _, row := range s.pkgRows {
		decisions[row.PackageNumber] = row
	}
	require.Len(t, decisions, 3)
	assert.True(t, decisions[1].Accepted)
	assert.False(t, decisions[2].Accepted)
	assert.True(t, decisions[3].Accepted)
	require.NotNil(t, decisions[2].RejectionReason)
	assert.Equal(t, "Caja 2 llegó abierta", *decisions[2].RejectionReason)
	assert.Equal(t, 2, s.confirmation.AcceptedPackagesCount)
	assert.Equal(t, 3, s.confirmation.TotalPackages)
}

func TestConfirmPartialRequiresPackageList(t *testing.T) {
	t.Parallel()

	s := seededStore(3)
	p, _ := newTestProcessor(s, nil, nil)

	in := validInput()
	in.AcceptanceMode = ModeParcial
	in.AcceptedPackageNumbers = nil

	_, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)
	// nothing persisted, token untouched
	assert.Nil(t, s.confirmation)
	assert.Equal(t, models.QrStatusPendiente, s.token.Status)
}

func TestConfirmPartialUnknownPackageNumber(t *testing.T) {
	t.Parallel()

	s := seededStore(2)
	p, _ := newTestProcessor(s, nil, nil)

	in := validInput()
	in.AcceptanceMode = ModeParcial
	in.AcceptedPackageNumbers = []int{1, 7}

	_, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)
	assert.Nil(t, s.confirmation)
}

func TestConfirmRejection(t *testing.T) {
	t.Parallel()

	s := seededStore(2)
	p, _ := newTestProcessor(s, nil, nil)

	in := validInput()
	in.AcceptanceMode = ModeRechazado

	res, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultRechazado, res.Result)
	assert.Equal(t, models.QrStatusRechazado, s.token.Status)
	for _, row := range s.pkgRows {
		assert.False(t, row.Accepted)
		require.NotNil(t, row.RejectionReason)
		assert.Equal(t, defaultRejectionReason, *row.RejectionReason)
	}
	assert.Equal(t, 0, s.confirmation.AcceptedPackagesCount)
}

func TestConfirmEmptyManifestIsSinglePackage(t *testing.T) {
	t.Parallel()

	s := seededStore(0)
	p, _ := newTestProcessor(s, nil, nil)

	res, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultConfirmado, res.Result)
	require.Len(t, s.pkgRows, 1)
	assert.Equal(t, 1, s.pkgRows[0].PackageNumber)
	assert.Equal(t, 1, s.confirmation.TotalPackages)
}

func TestConfirmSecondAttemptConflicts(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)

	_, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.Nil(t, err)
	first := s.confirmation

	// a second session for the same token must fail on the terminal status
	now := time.Now()
	s.session = &models.ValidationSession{
		ID:               6,
		QrID:             1,
		OtpVerified:      true,
		SessionTokenHash: security.HashToken(rawSessionToken),
		ExpiresAt:        now.Add(30 * time.Minute),
	}
	_, err = p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindConflict, err.Kind)
	assert.Same(t, first, s.confirmation)
}

func TestConfirmSessionReuseUnauthorized(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)

	consumed := time.Now().Add(-time.Minute)
	s.session.ConsumedAt = &consumed

	_, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindUnauthorized, err.Kind)
	assert.Nil(t, s.confirmation)
}

func TestConfirmUnverifiedSessionUnauthorized(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)
	s.session.OtpVerified = false

	_, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindUnauthorized, err.Kind)
}

func TestConfirmUnknownSessionToken(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)

	in := validInput()
	in.SessionTokenRaw = "some-other-token"

	_, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindUnauthorized, err.Kind)
}

func TestConfirmExpiredSessionGone(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)
	s.session.ExpiresAt = time.Now().Add(-time.Minute)

	_, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindGone, err.Kind)
}

func TestConfirmExpiredTokenLazilyExpires(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, audit := newTestProcessor(s, nil, nil)
	s.token.ExpiresAt = time.Now().Add(-time.Hour)

	_, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindGone, err.Kind)
	assert.Equal(t, models.QrStatusExpirado, s.token.Status)
	assert.Contains(t, audit.actions, "expired")

	// once expired, further attempts on a fresh session see the terminal state
	now := time.Now()
	s.session = &models.ValidationSession{
		QrID:             1,
		OtpVerified:      true,
		SessionTokenHash: security.HashToken(rawSessionToken),
		ExpiresAt:        now.Add(30 * time.Minute),
	}
	_, err = p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindConflict, err.Kind)
}

func TestConfirmWithIncident(t *testing.T) {
	t.Parallel()

	s := seededStore(2)
	claims := &stubClaimFiler{result: &FileClaimResult{
		Ticket:        ClaimTicket{ID: "t-77", TicketNumber: "PQRS-077"},
		EvidencePaths: []string{"1/100/incidente/evidencia-01.jpg"},
		GuidePath:     "1/100/incidente/guia.jpg",
	}}
	p, audit := newTestProcessor(s, claims, nil)

	in := validInput()
	in.IncidentEnabled = true
	in.IncidentInvoiceNumber = "FAC-881"
	in.IncidentProductReference = "SKU-123"
	in.IncidentDefectiveQuantity = 2
	in.IncidentDescription = "Producto con empaque roto"
	in.ClaimantName = "Bodega Norte"
	in.ClaimantContact = "bodega@example.com"
	in.IncidentEvidenceFiles = []IncidentFile{{FileName: "foto.jpg", ContentType: "image/jpeg", Data: []byte{0xFF}}}
	in.IncidentGuideFile = &IncidentFile{FileName: "guia.jpg", ContentType: "image/jpeg", Data: []byte{0xFF}}

	res, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultConfirmadoIncidente, res.Result)
	assert.Equal(t, models.QrStatusConfirmadoIncidente, s.token.Status)
	require.NotNil(t, res.PqrsTicket)
	assert.Equal(t, "PQRS-077", res.PqrsTicket.TicketNumber)
	assert.Equal(t, 1, claims.calls)
	require.Len(t, s.incidents, 1)
	assert.Equal(t, "t-77", s.incidents[0].PqrsTicketID)
	assert.Equal(t, models.IncidentStatusAbierto, s.incidents[0].Status)
	assert.Contains(t, audit.actions, "opened")
}

func TestConfirmIncidentZeroQuantityRejectedBeforePersist(t *testing.T) {
	t.Parallel()

	s := seededStore(2)
	claims := &stubClaimFiler{}
	p, _ := newTestProcessor(s, claims, nil)

	in := validInput()
	in.IncidentEnabled = true
	in.IncidentInvoiceNumber = "FAC-881"
	in.IncidentProductReference = "SKU-123"
	in.IncidentDefectiveQuantity = 0
	in.IncidentEvidenceFiles = []IncidentFile{{FileName: "foto.jpg"}}
	in.IncidentGuideFile = &IncidentFile{FileName: "guia.jpg"}

	_, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind)
	assert.Nil(t, s.confirmation)
	assert.Empty(t, s.incidents)
	assert.Zero(t, claims.calls)
	assert.Equal(t, models.QrStatusPendiente, s.token.Status)
}

func TestConfirmClaimFailureDegradesButConfirms(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	claims := &stubClaimFiler{err: errors.New("pqrs unavailable")}
	p, _ := newTestProcessor(s, claims, nil)

	in := validInput()
	in.IncidentEnabled = true
	in.IncidentInvoiceNumber = "FAC-1"
	in.IncidentProductReference = "SKU-1"
	in.IncidentDefectiveQuantity = 1
	in.IncidentEvidenceFiles = []IncidentFile{{FileName: "foto.jpg"}}
	in.IncidentGuideFile = &IncidentFile{FileName: "guia.jpg"}

	res, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultConfirmadoIncidente, res.Result)
	assert.Nil(t, res.PqrsTicket)
	// the incident row is still persisted, without a ticket reference
	require.Len(t, s.incidents, 1)
	assert.Empty(t, s.incidents[0].PqrsTicketID)
}

func TestConfirmEvidenceFailureDegradesButConfirms(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	evidence := &stubEvidenceWriter{err: errors.New("bucket down")}
	p, _ := newTestProcessor(s, nil, evidence)

	res, err := p.Confirm(context.Background(), validInput(), requestmeta.RequestMeta{})
	require.Nil(t, err)

	assert.Equal(t, models.ResultConfirmado, res.Result)
	assert.Empty(t, res.EvidencePdfURL)
	assert.Empty(t, s.attachedPath)
	// authoritative state stands, evidence gets retried later
	assert.Equal(t, models.QrStatusConfirmado, s.token.Status)
}

func TestConfirmRecordsOfflineEvent(t *testing.T) {
	t.Parallel()

	s := seededStore(1)
	p, _ := newTestProcessor(s, nil, nil)

	captured := time.Now().Add(-2 * time.Hour)
	in := validInput()
	in.OfflineHash = "sha256-of-local-event"
	in.OfflineTimestamp = &captured

	_, err := p.Confirm(context.Background(), in, requestmeta.RequestMeta{})
	require.Nil(t, err)

	event, gerr := s.GetByHash("sha256-of-local-event")
	require.NoError(t, gerr)
	assert.Equal(t, models.SyncStatusSynced, event.SyncStatus)
	assert.Equal(t, "delivery_confirmation", event.EventType)
	require.NotNil(t, event.CapturedAt)
	assert.Equal(t, captured.Unix(), event.CapturedAt.Unix())
}

func TestDeriveResultPrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Input
		plan acceptancePlan
		want models.ConfirmationResult
	}{
		{
			name: "rechazado wins over incident",
			in:   Input{AcceptanceMode: ModeRechazado, IncidentEnabled: true},
			plan: acceptancePlan{acceptedCount: 0, totalPackages: 2},
			want: models.ResultRechazado,
		},
		{
			name: "incident wins over parcial",
			in:   Input{AcceptanceMode: ModeParcial, IncidentEnabled: true},
			plan: acceptancePlan{acceptedCount: 1, totalPackages: 2},
			want: models.ResultConfirmadoIncidente,
		},
		{
			name: "incomplete total downgrades to parcial",
			in:   Input{AcceptanceMode: ModeParcial},
			plan: acceptancePlan{acceptedCount: 1, totalPackages: 2},
			want: models.ResultParcial,
		},
		{
			name: "full acceptance",
			in:   Input{AcceptanceMode: ModeTotal},
			plan: acceptancePlan{acceptedCount: 2, totalPackages: 2},
			want: models.ResultConfirmado,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, deriveResult(&tc.in, &tc.plan))
		})
	}
}
