package extract

import (
	"context"
	"net/url"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/payload"
	"go.uber.org/zap"
)

func listingAPI(body any) *fakeAPI {
	return &fakeAPI{
		get: func(string, url.Values, string) (payload.Document, error) {
			return payload.MustFromValue(body), nil
		},
	}
}

var listing = map[string]any{
	"data": []any{
		map[string]any{"id": 100274, "name": "Visionamos App"},
		map[string]any{"appKey": "200001", "name": "Coovimag Movil"},
		map[string]any{"applicationId": "300002", "name": "Demo"},
		map[string]any{"id": "100274", "name": "Visionamos duplicate"},
		map[string]any{"name": "no id at all"},
		"not an object",
	},
}

func TestDiscoverer_Discover(t *testing.T) {
	t.Parallel()

	tenants := config.Tenant{Default: "visionamos", Applications: map[string]string{"200001": "coovimag"}}

	tests := []struct {
		name    string
		body    any
		cfg     config.Extraction
		wantIDs []string
		wantErr error
	}{
		{
			name:    "keyword match",
			body:    listing,
			cfg:     config.Extraction{ApplicationKeywords: []string{"coovimag"}, MaxFallbackApps: 3},
			wantIDs: []string{"200001"},
		},
		{
			name:    "expression filter wins over keywords",
			body:    listing,
			cfg:     config.Extraction{ApplicationFilter: `name contains "Demo" || id == "100274"`, ApplicationKeywords: []string{"coovimag"}, MaxFallbackApps: 3},
			wantIDs: []string{"100274", "300002"},
		},
		{
			name:    "nothing matched falls back to the first applications",
			body:    listing,
			cfg:     config.Extraction{ApplicationKeywords: []string{"nomatch"}, MaxFallbackApps: 2},
			wantIDs: []string{"100274", "200001"},
		},
		{
			name:    "top level array",
			body:    []any{map[string]any{"id": 7, "name": "Utrahuilca"}},
			cfg:     config.Extraction{ApplicationKeywords: config.DefaultApplicationKeywords, MaxFallbackApps: 3},
			wantIDs: []string{"7"},
		},
		{
			name:    "empty listing",
			body:    map[string]any{"data": []any{}},
			cfg:     config.Extraction{MaxFallbackApps: 3},
			wantErr: ErrNoApplications,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := &fakeStore{}
			d, err := NewDiscoverer(listingAPI(tt.body), store, tenants, tt.cfg, zap.NewNop().Sugar())
			require.NoError(t, err)

			apps, err := d.Discover(context.Background())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			ids := make([]string, 0, len(apps))
			for _, a := range apps {
				ids = append(ids, a.ID)
				assert.Equal(t, tenants.For(a.ID), a.TenantID)
			}
			assert.Equal(t, tt.wantIDs, ids)

			require.Len(t, store.docs, 1)
			assert.Equal(t, "raw_applications", store.docs[0].Table)
			assert.Equal(t, "discovery", store.docs[0].ApplicationID)
		})
	}
}

func TestDiscoverer_ListingFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		get: func(string, url.Values, string) (payload.Document, error) {
			return payload.Document{}, errors.New("401 unauthorized")
		},
	}
	d, err := NewDiscoverer(api, &fakeStore{}, config.Tenant{Default: "visionamos"}, config.Extraction{}, zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = d.Discover(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list applications")
}

func TestNewDiscoverer_RejectsInvalidFilter(t *testing.T) {
	t.Parallel()

	_, err := NewDiscoverer(&fakeAPI{}, &fakeStore{}, config.Tenant{}, config.Extraction{ApplicationFilter: "name contains"}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid application filter")
}
