package qrtoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmaentrega/backend/app/models"
	"github.com/firmaentrega/backend/internal/pkg/confirm"
)

type fakeQrRepo struct {
	token    *models.QrToken
	packages []models.Package
	err      error
}

func (f *fakeQrRepo) CreateWithPackages(token *models.QrToken, packages []models.Package) error {
	if f.err != nil {
		return f.err
	}
	token.ID = 1
	token.PublicRef = "ref-1"
	f.token = token
	f.packages = packages
	return nil
}

func (f *fakeQrRepo) GetByID(uint) (*models.QrToken, error)           { return f.token, nil }
func (f *fakeQrRepo) GetByRef(string) (*models.QrToken, error)        { return f.token, nil }
func (f *fakeQrRepo) GetPackages(uint) ([]models.Package, error)      { return f.packages, nil }
func (f *fakeQrRepo) MarkExpired(uint) (bool, error)                  { return false, nil }
func (f *fakeQrRepo) Count() (int64, error)                           { return 0, nil }

func validRequest() IssueRequest {
	return IssueRequest{
		OrderID:       "PED-1001",
		WarehouseID:   "BOD-03",
		TransporterID: "TRANS-9",
		Packages: []ManifestEntry{
			{PackageNumber: 1, TotalPackages: 2, QuantityTotal: 5},
			{PackageNumber: 2, TotalPackages: 2, QuantityTotal: 3},
		},
	}
}

func TestIssue(t *testing.T) {
	t.Parallel()

	repo := &fakeQrRepo{}
	token, err := NewIssuer(repo).Issue(validRequest())
	require.Nil(t, err)

	assert.Equal(t, models.QrStatusPendiente, token.Status)
	assert.True(t, token.ExpiresAt.After(token.IssuedAt))
	assert.Len(t, repo.packages, 2)
}

func TestIssueManifestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*IssueRequest)
	}{
		{
			name:   "empty manifest",
			mutate: func(r *IssueRequest) { r.Packages = nil },
		},
		{
			name:   "gap in package numbers",
			mutate: func(r *IssueRequest) { r.Packages[1].PackageNumber = 3 },
		},
		{
			name: "duplicate package number",
			mutate: func(r *IssueRequest) {
				r.Packages[1].PackageNumber = 1
			},
		},
		{
			name:   "total mismatch",
			mutate: func(r *IssueRequest) { r.Packages[0].TotalPackages = 5 },
		},
		{
			name:   "non positive quantity",
			mutate: func(r *IssueRequest) { r.Packages[0].QuantityTotal = 0 },
		},
		{
			name:   "missing order",
			mutate: func(r *IssueRequest) { r.OrderID = "" },
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := validRequest()
			tc.mutate(&req)
			_, err := NewIssuer(&fakeQrRepo{}).Issue(req)
			require.NotNil(t, err)
			assert.Equal(t, confirm.KindValidation, err.Kind)
		})
	}
}

func TestIssueDefaultsExpiry(t *testing.T) {
	t.Parallel()

	repo := &fakeQrRepo{}
	req := validRequest()
	req.ExpiresInHours = 0
	token, err := NewIssuer(repo).Issue(req)
	require.Nil(t, err)
	assert.Equal(t, float64(defaultExpiryHours), token.ExpiresAt.Sub(token.IssuedAt).Hours())
}
