package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"integration-gateway/internal/credentials"
	"integration-gateway/internal/crypto"
	"integration-gateway/internal/gateway"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/ratelimit"
	"integration-gateway/internal/respcache"
	"integration-gateway/internal/storage"
)

// newAggregatorFixture wires an aggregator over two connected platforms whose
// API is the given handler.
func newAggregatorFixture(t *testing.T, handler http.HandlerFunc) (*Aggregator, *credentials.Store) {
	t.Helper()

	platformSrv := httptest.NewServer(handler)
	t.Cleanup(platformSrv.Close)

	encryptor, err := crypto.NewTokenEncryptor("unit-test-key")
	require.NoError(t, err)
	creds := credentials.NewStore(storage.NewMemoryStorage(), encryptor, nil)

	ctx := context.Background()
	for _, seed := range []struct{ platform, scope string }{
		{"crm", "loc-1"},
		{"ads_meta", "act-9"},
	} {
		require.NoError(t, creds.Upsert(ctx, &credentials.Credential{
			Platform:    seed.platform,
			Scope:       seed.scope,
			AccessToken: "access-" + seed.platform,
			TokenType:   "Bearer",
			ExpiresAt:   time.Now().Add(time.Hour).UTC(),
			Status:      credentials.StatusConnected,
		}))
	}

	providers := map[string]oauthflow.ProviderConfig{
		"crm":      {Platform: "crm", BaseURL: platformSrv.URL, TokenURL: platformSrv.URL + "/token"},
		"ads_meta": {Platform: "ads_meta", BaseURL: platformSrv.URL, TokenURL: platformSrv.URL + "/token"},
	}
	oauth := oauthflow.NewController(providers, creds, oauthflow.NewMemoryStateStore(), platformSrv.Client(), nil)

	limiter := ratelimit.NewLimiter(nil, nil)
	gw := gateway.NewClient(oauth, creds, limiter, respcache.NewLocalCache(time.Minute),
		platformSrv.Client(), []string{"crm", "ads_meta"}, nil)

	return New(gw, creds, nil), creds
}

func testRange() DateRange {
	return DateRange{
		Start: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildReportAggregatesAllSections(t *testing.T) {
	agg, _ := newAggregatorFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"spend":42}`))
	})

	report, err := agg.BuildReport(context.Background(), "", testRange())
	require.NoError(t, err)
	require.Len(t, report.Sections, 2)

	// Sections come back in stable platform order
	assert.Equal(t, "ads_meta", report.Sections[0].Platform)
	assert.Equal(t, "crm", report.Sections[1].Platform)

	for _, section := range report.Sections {
		assert.Equal(t, SectionOK, section.Status)
		assert.JSONEq(t, `{"spend":42}`, string(section.Data))
		assert.Empty(t, section.Error)
	}
}

func TestBuildReportToleratesPartialFailure(t *testing.T) {
	agg, _ := newAggregatorFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// The CRM report path fails, the ads path succeeds
		if r.URL.Path == "/opportunities/search" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"data":[{"spend":"7.50"}]}`))
	})

	report, err := agg.BuildReport(context.Background(), "", testRange())
	require.NoError(t, err)
	require.Len(t, report.Sections, 2)

	meta := report.Sections[0]
	assert.Equal(t, SectionOK, meta.Status)

	crm := report.Sections[1]
	assert.Equal(t, "crm", crm.Platform)
	assert.Equal(t, SectionError, crm.Status)
	assert.NotEmpty(t, crm.Error)

	// Failed sections still carry the platform's zero-value shape
	var zero map[string]interface{}
	require.NoError(t, json.Unmarshal(crm.Data, &zero))
	assert.Contains(t, zero, "opportunities")
	assert.EqualValues(t, 0, zero["total"])
}

func TestBuildReportFiltersByPlatform(t *testing.T) {
	agg, _ := newAggregatorFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	report, err := agg.BuildReport(context.Background(), "crm", testRange())
	require.NoError(t, err)
	require.Len(t, report.Sections, 1)
	assert.Equal(t, "crm", report.Sections[0].Platform)
}

func TestBuildReportSkipsDisconnectedAccounts(t *testing.T) {
	agg, creds := newAggregatorFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	ctx := context.Background()

	require.NoError(t, creds.MarkDisconnected(ctx, "ads_meta", "act-9"))

	report, err := agg.BuildReport(ctx, "", testRange())
	require.NoError(t, err)
	require.Len(t, report.Sections, 1)
	assert.Equal(t, "crm", report.Sections[0].Platform)
}

func TestBuildReportUsesDateRange(t *testing.T) {
	var gotQuery string
	agg, _ := newAggregatorFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/opportunities/search" {
			gotQuery = r.URL.RawQuery
		}
		w.Write([]byte(`{}`))
	})

	_, err := agg.BuildReport(context.Background(), "crm", testRange())
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "startDate=2026-07-01")
	assert.Contains(t, gotQuery, "endDate=2026-07-31")
	assert.Contains(t, gotQuery, "locationId=loc-1")
}
