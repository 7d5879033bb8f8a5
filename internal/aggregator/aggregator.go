// Package aggregator assembles the cross-platform report: it fans out over
// every connected account concurrently and folds the responses into one
// document. A failing platform degrades to a zero-valued section instead of
// failing the whole report.
package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/config"
	"integration-gateway/internal/credentials"
	"integration-gateway/internal/gateway"
	"integration-gateway/internal/metrics"
)

// Section status values.
const (
	SectionOK    = "ok"
	SectionError = "error"
)

// maxConcurrentFetches bounds the fan-out so a report over many accounts
// doesn't flood the rate limiters all at once.
const maxConcurrentFetches = 8

// DateRange is the reporting period, inclusive of both days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Section is one platform account's slice of the report. On failure Data is
// the platform's zero-value document and Error carries a human-readable
// reason, so dashboards always render every connected account.
type Section struct {
	Platform string          `json:"platform"`
	Scope    string          `json:"scope"`
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error,omitempty"`
	// FromCache marks sections served from the response cache
	FromCache bool `json:"from_cache"`
}

// Report is the aggregated cross-platform document.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Range       DateRange `json:"range"`
	Sections    []Section `json:"sections"`
}

// Aggregator builds reports through the gateway client.
type Aggregator struct {
	gateway *gateway.Client
	creds   *credentials.Store
	logger  logging.Logger
}

// New creates an aggregator.
func New(gw *gateway.Client, creds *credentials.Store, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Aggregator{gateway: gw, creds: creds, logger: logger}
}

// BuildReport fans out over all connected accounts (optionally restricted to
// one platform) and assembles their sections. Individual failures never fail
// the report; the error is folded into that account's section.
func (a *Aggregator) BuildReport(ctx context.Context, platform string, dateRange DateRange) (*Report, error) {
	creds, err := a.creds.ListConnected(ctx, platform)
	if err != nil {
		return nil, err
	}

	sections := make([]Section, len(creds))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentFetches)

	for i, cred := range creds {
		i, cred := i, cred
		group.Go(func() error {
			sections[i] = a.fetchSection(groupCtx, cred, dateRange)
			return nil
		})
	}

	// Workers never return errors; Wait only orders completion.
	_ = group.Wait()

	// Deterministic section order regardless of completion order
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].Platform != sections[j].Platform {
			return sections[i].Platform < sections[j].Platform
		}
		return sections[i].Scope < sections[j].Scope
	})

	return &Report{
		GeneratedAt: time.Now().UTC(),
		Range:       dateRange,
		Sections:    sections,
	}, nil
}

// fetchSection pulls one account's report slice, degrading to a zero-valued
// section on any error.
func (a *Aggregator) fetchSection(ctx context.Context, cred *credentials.Credential, dateRange DateRange) Section {
	req := sectionRequest(cred, dateRange)

	resp, err := a.gateway.Call(ctx, req)
	if err != nil {
		a.logger.Warn("Report section failed",
			logging.Field{Key: "platform", Value: cred.Platform},
			logging.Field{Key: "scope", Value: cred.Scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
		metrics.ReportSections.WithLabelValues(cred.Platform, "error").Inc()
		return Section{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Status:   SectionError,
			Data:     zeroSection(cred.Platform),
			Error:    err.Error(),
		}
	}

	data := resp.Body
	if !json.Valid(data) {
		data = zeroSection(cred.Platform)
	}

	metrics.ReportSections.WithLabelValues(cred.Platform, "success").Inc()
	return Section{
		Platform:  cred.Platform,
		Scope:     cred.Scope,
		Status:    SectionOK,
		Data:      data,
		FromCache: resp.FromCache,
	}
}

// sectionRequest maps a platform to its report endpoint and query shape.
func sectionRequest(cred *credentials.Credential, dateRange DateRange) *gateway.Request {
	start := dateRange.Start.Format("2006-01-02")
	end := dateRange.End.Format("2006-01-02")

	query := url.Values{}

	switch cred.Platform {
	case config.PlatformCRM:
		query.Set("locationId", cred.Scope)
		query.Set("startDate", start)
		query.Set("endDate", end)
		return &gateway.Request{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Method:   http.MethodGet,
			Path:     "/opportunities/search",
			Query:    query,
		}
	case config.PlatformAdsGoogle:
		query.Set("startDate", start)
		query.Set("endDate", end)
		return &gateway.Request{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Method:   http.MethodGet,
			Path:     "/customers/" + cred.Scope + "/campaignMetrics",
			Query:    query,
		}
	case config.PlatformAdsMeta:
		query.Set("time_range[since]", start)
		query.Set("time_range[until]", end)
		query.Set("fields", "spend,impressions,clicks,cpc")
		return &gateway.Request{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Method:   http.MethodGet,
			Path:     "/act_" + cred.Scope + "/insights",
			Query:    query,
		}
	default:
		query.Set("start", start)
		query.Set("end", end)
		return &gateway.Request{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Method:   http.MethodGet,
			Path:     "/reports/summary",
			Query:    query,
		}
	}
}

// zeroSection returns the platform's empty report document, keeping the
// dashboard's shape stable when a platform is down.
func zeroSection(platform string) json.RawMessage {
	switch platform {
	case config.PlatformCRM:
		return json.RawMessage(`{"opportunities":[],"total":0,"pipeline_value":0}`)
	case config.PlatformAdsGoogle:
		return json.RawMessage(`{"campaigns":[],"spend":0,"impressions":0,"clicks":0}`)
	case config.PlatformAdsMeta:
		return json.RawMessage(`{"data":[],"spend":0,"impressions":0,"clicks":0}`)
	default:
		return json.RawMessage(`{}`)
	}
}
