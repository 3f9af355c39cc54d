package evidence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmaentrega/backend/app/models"
)

// memStore is an in-memory ObjectStore for tests
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	m.objects[key] = data
	return nil
}

func (m *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func testConfirmation() (*models.QrToken, *models.Confirmation) {
	acceptedAt := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	token := &models.QrToken{
		ID:              7,
		OrderID:         "PED-1001",
		WarehouseID:     "BOD-03",
		TransporterID:   "TRANS-9",
		DeliveryBatchID: "LOTE-55",
	}
	conf := &models.Confirmation{
		ID:                    42,
		QrID:                  7,
		OrderID:               "PED-1001",
		Result:                models.ResultParcial,
		AcceptedPackagesCount: 2,
		TotalPackages:         3,
		SignatureName:         "Ana Diaz (recepcion)",
		LegalClauseText:       "Recibo a satisfaccion los paquetes aceptados.",
		LegalAcceptedAt:       acceptedAt,
		AcceptanceIP:          "10.1.2.3",
		GeoLat:                4.60971,
		GeoLng:                -74.08175,
		GeoAccuracy:           12.5,
		PartialReason:         "Caja 2 llego abierta",
	}
	return token, conf
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	token, conf := testConfirmation()
	a := BuildDocument(token, conf, "PQRS-77").Render()
	b := BuildDocument(token, conf, "PQRS-77").Render()
	assert.Equal(t, a, b)
	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestRenderEscapesDelimiters(t *testing.T) {
	t.Parallel()

	doc := &Document{Title: "Acta (borrador)"}
	doc.AddLine("Nota", `linea\con (parentesis)`+"\ny salto")
	data := doc.Render()
	assert.NotContains(t, string(data), "(Acta (borrador)) Tj")
	assert.Contains(t, string(data), `Acta \(borrador\)`)
	assert.True(t, len(data) > 0)
}

func TestObjectKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	key := ObjectKey(7, 42, at)
	assert.Equal(t, "7/42/evidencia-20260314T150926Z.pdf", key)
	assert.Equal(t, key, ObjectKey(7, 42, at))
}

func TestWriteAndVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gen := NewGenerator(store)
	token, conf := testConfirmation()

	path, checksum, err := gen.Write(context.Background(), token, conf, "PQRS-77")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Len(t, checksum, 64)

	conf.EvidencePdfPath = path
	conf.EvidencePdfChecksum = checksum

	ok, actual, err := gen.Verify(context.Background(), conf)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, checksum, actual)
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gen := NewGenerator(store)
	token, conf := testConfirmation()

	path, checksum, err := gen.Write(context.Background(), token, conf, "")
	require.NoError(t, err)

	conf.EvidencePdfPath = path
	conf.EvidencePdfChecksum = checksum

	// flip a byte in the stored object
	store.objects[path][10] ^= 0xFF

	ok, actual, err := gen.Verify(context.Background(), conf)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, checksum, actual)
}

func TestVerifyWithoutEvidenceFails(t *testing.T) {
	t.Parallel()

	gen := NewGenerator(newMemStore())
	_, conf := testConfirmation()
	_, _, err := gen.Verify(context.Background(), conf)
	assert.Error(t, err)
}
