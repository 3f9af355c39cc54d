package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/app/repository"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
	"github.com/firmaentrega/backend/internal/pkg/requestmeta"
	"github.com/firmaentrega/backend/internal/pkg/security"
)

type memChallengeStore struct {
	challenges map[string]*Challenge
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{challenges: make(map[string]*Challenge)}
}

func (s *memChallengeStore) Save(_ context.Context, ch *Challenge, _ time.Duration) error {
	copied := *ch
	s.challenges[ch.ID] = &copied
	return nil
}

func (s *memChallengeStore) Load(_ context.Context, id string) (*Challenge, error) {
	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	copied := *ch
	return &copied, nil
}

func (s *memChallengeStore) Delete(_ context.Context, id string) error {
	delete(s.challenges, id)
	return nil
}

type fakeQrRepo struct {
	token   *models.QrToken
	expired bool
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

func (f *fakeQrRepo) MarkExpired(uint) (bool, error) {
	f.expired = true
	f.token.Status = models.QrStatusExpirado
	return true, nil
}

func (f *fakeQrRepo) Count() (int64, error) { return 0, nil }

type fakeSessionRepo struct {
	sessions []*models.ValidationSession
}

func (f *fakeSessionRepo) Create(session *models.ValidationSession) error {
	session.ID = uint(len(f.sessions) + 1)
	f.sessions = append(f.sessions, session)
	return nil
}

func (f *fakeSessionRepo) GetByTokenHash(hash string) (*models.ValidationSession, error) {
	for _, s := range f.sessions {
		if s.SessionTokenHash == hash {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeAudit struct {
	actions []string
}

func (f *fakeAudit) Append(_ string, _ uint, action string, _ requestmeta.RequestMeta, _ map[string]any) {
	f.actions = append(f.actions, action)
}

func pendingToken() *models.QrToken {
	return &models.QrToken{
		ID:        7,
		PublicRef: "ref-7",
		OrderID:   "PED-1001",
		Status:    models.QrStatusPendiente,
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestManager(qr *fakeQrRepo, sessions *fakeSessionRepo, store ChallengeStore, audit *fakeAudit) *Manager {
	repos := &repository.Repositories{QrToken: qr, Session: sessions}
	return NewManager(repos, store, audit)
}

func TestStartChallenge(t *testing.T) {
	t.Parallel()

	store := newMemChallengeStore()
	m := newTestManager(&fakeQrRepo{token: pendingToken()}, &fakeSessionRepo{}, store, &fakeAudit{})

	result, err := m.StartChallenge(context.Background(), "ref-7", requestmeta.RequestMeta{})
	require.Nil(t, err)
	assert.NotEmpty(t, result.ChallengeID)
	assert.Positive(t, result.ExpiresInSeconds)

	ch, lerr := store.Load(context.Background(), result.ChallengeID)
	require.NoError(t, lerr)
	assert.Equal(t, uint(7), ch.QrID)
	assert.NotEmpty(t, ch.CodeHash)
}

func TestStartChallengeUnknownRef(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeQrRepo{}, &fakeSessionRepo{}, newMemChallengeStore(), &fakeAudit{})
	_, err := m.StartChallenge(context.Background(), "missing", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindNotFound, err.Kind)
}

func TestStartChallengeTerminalToken(t *testing.T) {
	t.Parallel()

	token := pendingToken()
	token.Status = models.QrStatusConfirmado
	m := newTestManager(&fakeQrRepo{token: token}, &fakeSessionRepo{}, newMemChallengeStore(), &fakeAudit{})
	_, err := m.StartChallenge(context.Background(), "ref-7", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindConflict, err.Kind)
}

func TestStartChallengeExpiredToken(t *testing.T) {
	t.Parallel()

	token := pendingToken()
	token.ExpiresAt = time.Now().Add(-time.Minute)
	qr := &fakeQrRepo{token: token}
	m := newTestManager(qr, &fakeSessionRepo{}, newMemChallengeStore(), &fakeAudit{})
	_, err := m.StartChallenge(context.Background(), "ref-7", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindGone, err.Kind)
	assert.True(t, qr.expired)
}

func seedChallenge(t *testing.T, store *memChallengeStore, code string) *Challenge {
	t.Helper()
	ch := &Challenge{
		ID:          "ch-1",
		QrID:        7,
		CodeHash:    security.HashToken(code),
		MaxAttempts: 5,
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.Save(context.Background(), ch, time.Minute))
	return ch
}

func TestVerifyOtpSuccess(t *testing.T) {
	t.Parallel()

	store := newMemChallengeStore()
	seedChallenge(t, store, "123456")
	sessions := &fakeSessionRepo{}
	m := newTestManager(&fakeQrRepo{token: pendingToken()}, sessions, store, &fakeAudit{})

	result, err := m.VerifyOtp(context.Background(), "ch-1", "123456", requestmeta.RequestMeta{})
	require.Nil(t, err)
	assert.NotEmpty(t, result.SessionToken)

	// the raw token is returned once; only its hash is stored
	require.Len(t, sessions.sessions, 1)
	session := sessions.sessions[0]
	assert.True(t, session.OtpVerified)
	assert.Equal(t, security.HashToken(result.SessionToken), session.SessionTokenHash)
	assert.NotEqual(t, result.SessionToken, session.SessionTokenHash)

	// the challenge is gone after a successful verification
	_, lerr := store.Load(context.Background(), "ch-1")
	assert.ErrorIs(t, lerr, ErrChallengeNotFound)
}

func TestVerifyOtpWrongCode(t *testing.T) {
	t.Parallel()

	store := newMemChallengeStore()
	seedChallenge(t, store, "123456")
	m := newTestManager(&fakeQrRepo{token: pendingToken()}, &fakeSessionRepo{}, store, &fakeAudit{})

	_, err := m.VerifyOtp(context.Background(), "ch-1", "000000", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindUnauthorized, err.Kind)

	ch, lerr := store.Load(context.Background(), "ch-1")
	require.NoError(t, lerr)
	assert.Equal(t, 1, ch.Attempts)
}

func TestVerifyOtpLockout(t *testing.T) {
	t.Parallel()

	store := newMemChallengeStore()
	seedChallenge(t, store, "123456")
	audit := &fakeAudit{}
	m := newTestManager(&fakeQrRepo{token: pendingToken()}, &fakeSessionRepo{}, store, audit)

	for i := 0; i < 5; i++ {
		_, err := m.VerifyOtp(context.Background(), "ch-1", "000000", requestmeta.RequestMeta{})
		require.NotNil(t, err)
	}

	// even the right code is rejected while locked
	_, err := m.VerifyOtp(context.Background(), "ch-1", "123456", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindUnauthorized, err.Kind)
	assert.Contains(t, audit.actions, "otp_locked_out")
}

func TestVerifyOtpExpiredChallenge(t *testing.T) {
	t.Parallel()

	store := newMemChallengeStore()
	ch := seedChallenge(t, store, "123456")
	ch.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(context.Background(), ch, time.Minute))

	m := newTestManager(&fakeQrRepo{token: pendingToken()}, &fakeSessionRepo{}, store, &fakeAudit{})
	_, err := m.VerifyOtp(context.Background(), "ch-1", "123456", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindGone, err.Kind)
}

func TestVerifyOtpUnknownChallenge(t *testing.T) {
	t.Parallel()

	m := newTestManager(&fakeQrRepo{token: pendingToken()}, &fakeSessionRepo{}, newMemChallengeStore(), &fakeAudit{})
	_, err := m.VerifyOtp(context.Background(), "missing", "123456", requestmeta.RequestMeta{})
	require.NotNil(t, err)
	assert.Equal(t, confirm.KindGone, err.Kind)
}
