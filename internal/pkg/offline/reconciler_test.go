package offline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
)

type fakeQrRepo struct {
	token *models.QrToken
}

func (f *fakeQrRepo) CreateWithPackages(*models.QrToken, []models.Package) error { return nil }

func (f *fakeQrRepo) GetByID(uint) (*models.QrToken, error) {
	if f.token == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.token, nil
}

func (f *fakeQrRepo) GetByRef(string) (*models.QrToken, error) {
	if f.token == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.token, nil
}

func (f *fakeQrRepo) GetPackages(uint) ([]models.Package, error) { return nil, nil }
func (f *fakeQrRepo) MarkExpired(uint) (bool, error)             { return false, nil }
func (f *fakeQrRepo) Count() (int64, error)                      { return 0, nil }

type fakeConfirmationRepo struct {
	confirmation *models.Confirmation
}

func (f *fakeConfirmationRepo) CreateWithTransition(*models.Confirmation, []models.PackageConfirmation, models.QrStatus, string) error {
	return nil
}

func (f *fakeConfirmationRepo) GetByID(uint) (*models.Confirmation, error) {
	return f.GetByQrID(0)
}

func (f *fakeConfirmationRepo) GetByQrID(uint) (*models.Confirmation, error) {
	if f.confirmation == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.confirmation, nil
}

func (f *fakeConfirmationRepo) AttachEvidence(uint, string, string) error { return nil }

func (f *fakeConfirmationRepo) ListMissingEvidence(int) ([]models.Confirmation, error) {
	return nil, nil
}

// fakeOfflineRepo mirrors the unique-index upsert semantics of the real
// repository: one row per hash, updates replace the sync state.
type fakeOfflineRepo struct {
	rows map[string]*models.OfflineEvent
}

func newFakeOfflineRepo() *fakeOfflineRepo {
	return &fakeOfflineRepo{rows: make(map[string]*models.OfflineEvent)}
}

func (f *fakeOfflineRepo) UpsertByHash(event *models.OfflineEvent) error {
	if existing, ok := f.rows[event.OfflineHash]; ok {
		existing.SyncStatus = event.SyncStatus
		existing.SyncedAt = event.SyncedAt
		existing.ServerValidationMessage = event.ServerValidationMessage
		return nil
	}
	copied := *event
	f.rows[event.OfflineHash] = &copied
	return nil
}

func (f *fakeOfflineRepo) GetByHash(hash string) (*models.OfflineEvent, error) {
	row, ok := f.rows[hash]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Append(_ string, _ uint, action string, _ requestmeta.RequestMeta, _ map[string]any) {
	f.actions = append(f.actions, action)
}

func newTestReconciler(qr *fakeQrRepo, confs *fakeConfirmationRepo, events *fakeOfflineRepo) *Reconciler {
	repos := &repository.Repositories{
		QrToken:      qr,
		Confirmation: confs,
		OfflineEvent: events,
	}
	return NewReconciler(repos, &fakeAudit{})
}

func confirmedToken() (*fakeQrRepo, *fakeConfirmationRepo) {
	token := &models.QrToken{ID: 7, PublicRef: "ref-7", OrderID: "PED-1001", Status: models.QrStatusConfirmado}
	conf := &models.Confirmation{ID: 42, QrID: 7}
	return &fakeQrRepo{token: token}, &fakeConfirmationRepo{confirmation: conf}
}

func TestReconcileSyncsConfirmedToken(t *testing.T) {
	t.Parallel()

	qr, confs := confirmedToken()
	events := newFakeOfflineRepo()
	r := newTestReconciler(qr, confs, events)

	outcome, err := r.Reconcile(Event{QrRef: "ref-7", EventType: "delivery_confirmation", OfflineHash: "h-1"}, requestmeta.RequestMeta{})
	require.Nil(t, err)
	assert.Equal(t, models.SyncStatusSynced, outcome.SyncStatus)

	row, gerr := events.GetByHash("h-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.SyncStatusSynced, row.SyncStatus)
	assert.NotNil(t, row.SyncedAt)
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	qr, confs := confirmedToken()
	events := newFakeOfflineRepo()
	r := newTestReconciler(qr, confs, events)

	event := Event{QrRef: "ref-7", EventType: "delivery_confirmation", OfflineHash: "h-1"}
	_, err := r.Reconcile(event, requestmeta.RequestMeta{})
	require.Nil(t, err)
	_, err = r.Reconcile(event, requestmeta.RequestMeta{})
	require.Nil(t, err)

	// exactly one row after the second call
	assert.Len(t, events.rows, 1)
	row, gerr := events.GetByHash("h-1")
	require.NoError(t, gerr)
	assert.Equal(t, models.SyncStatusSynced, row.SyncStatus)
}

func TestReconcileWithoutConfirmationStaysPending(t *testing.T) {
	t.Parallel()

	token := &models.QrToken{ID: 7, PublicRef: "ref-7", OrderID: "PED-1001", Status: models.QrStatusPendiente}
	events := newFakeOfflineRepo()
	r := newTestReconciler(&fakeQrRepo{token: token}, &fakeConfirmationRepo{}, events)

	outcome, err := r.Reconcile(Event{QrRef: "ref-7", EventType: "delivery_confirmation", OfflineHash: "h-2"}, requestmeta.RequestMeta{})
	require.Nil(t, err)
	assert.Equal(t, models.SyncStatusPending, outcome.SyncStatus)
}

func TestReconcileUnknownToken(t *testing.T) {
	t.Parallel()

	r := newTestReconciler(&fakeQrRepo{}, &fakeConfirmationRepo{}, newFakeOfflineRepo())
	_, err := r.Reconcile(Event{QrRef: "missing", EventType: "delivery_confirmation", OfflineHash: "h-3"}, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindNotFound, err.Kind)
}

func TestReconcileValidation(t *testing.T) {
	t.Parallel()

	r := newTestReconciler(&fakeQrRepo{}, &fakeConfirmationRepo{}, newFakeOfflineRepo())

	_, err := r.Reconcile(Event{QrRef: "ref-7", EventType: "x"}, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindValidation, err.Kind)

	_, err = r.Reconcile(Event{OfflineHash: "h", EventType: "x"}, requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindValidation, err.Kind)
}

func TestReconcileBatchKeepsGoing(t *testing.T) {
	t.Parallel()

	qr, confs := confirmedToken()
	events := newFakeOfflineRepo()
	r := newTestReconciler(qr, confs, events)

	now := time.Now()
	outcomes := r.ReconcileBatch([]Event{
		{QrRef: "ref-7", EventType: "delivery_confirmation", OfflineHash: "h-1", CapturedAt: &now},
		{EventType: "delivery_confirmation"}, // invalid, no hash
		{QrRef: "ref-7", EventType: "delivery_confirmation", OfflineHash: "h-2"},
	}, requestmeta.RequestMeta{})

	require.Len(t, outcomes, 3)
	assert.Equal(t, models.SyncStatusSynced, outcomes[0].SyncStatus)
	assert.Equal(t, models.SyncStatusPending, outcomes[1].SyncStatus)
	assert.Equal(t, models.SyncStatusSynced, outcomes[2].SyncStatus)
}
