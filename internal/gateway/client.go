// Package gateway is the single egress path for platform API calls. Every
// outbound request flows through rate-limit admission, credential lookup,
// auth-failure recovery and response caching in one place, so no caller can
// accidentally bypass the lifecycle machinery.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"integration-gateway/internal/circuitbreaker"
	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/credentials"
	"integration-gateway/internal/metrics"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/ratelimit"
	"integration-gateway/internal/respcache"
)

const (
	// maxRateLimitRetries bounds how many provider 429s one call absorbs
	// before giving up.
	maxRateLimitRetries = 2

	// defaultPenalty applies when a 429 carries no usable Retry-After.
	defaultPenalty = 5 * time.Second

	// maxResponseBody caps how much of a platform response is read.
	maxResponseBody = 10 << 20
)

// Request describes one platform API call.
type Request struct {
	// Platform is the target platform identifier
	Platform string
	// Scope is the platform account the call acts for
	Scope string
	// Method is the HTTP method
	Method string
	// Path is the API path relative to the platform base URL
	Path string
	// Query carries URL query parameters
	Query url.Values
	// Body is the request payload for write methods
	Body []byte
	// Headers are extra headers merged over the defaults
	Headers map[string]string
	// CacheTTL overrides the default cache TTL for this call
	CacheTTL time.Duration
	// SkipCache bypasses the response cache entirely
	SkipCache bool
}

// cacheable reports whether the call's response may be memoized.
func (r *Request) cacheable() bool {
	return !r.SkipCache && (r.Method == "" || r.Method == http.MethodGet)
}

// cacheKey builds the response-cache key: platform, scope, then the call
// signature, so invalidation by platform or account prefix works.
func (r *Request) cacheKey() string {
	return respcache.Key(r.Platform, r.Scope, r.Method, r.Path, r.Query.Encode())
}

// Response is a completed platform API call.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentType string
	// FromCache marks responses served without touching the platform
	FromCache bool
}

// Client executes platform API calls. Safe for concurrent use.
type Client struct {
	oauth      *oauthflow.Controller
	creds      *credentials.Store
	limiter    *ratelimit.Limiter
	cache      respcache.Cache
	httpClient *http.Client
	breakers   map[string]*circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

// NewClient creates the gateway client. One circuit breaker is created per
// configured platform so a broken platform can't open the breaker for the
// others.
func NewClient(
	oauth *oauthflow.Controller,
	creds *credentials.Store,
	limiter *ratelimit.Limiter,
	cache respcache.Cache,
	httpClient *http.Client,
	platforms []string,
	logger logging.Logger,
) *Client {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	breakers := make(map[string]*circuitbreaker.GoBreakerAdapter, len(platforms))
	for _, platform := range platforms {
		breakers[platform] = circuitbreaker.NewGoBreaker(
			"platform-"+platform, circuitbreaker.PlatformConfig, logger)
	}

	return &Client{
		oauth:      oauth,
		creds:      creds,
		limiter:    limiter,
		cache:      cache,
		httpClient: httpClient,
		breakers:   breakers,
		logger:     logger,
	}
}

// Call executes a platform API request. The full sequence is: cache lookup,
// token acquisition (refreshing when close to expiry), blocking rate-limit
// admission, the HTTP call, then recovery: one forced-refresh retry on 401
// and bounded penalized retries on 429 for reads. Successful GET responses
// are cached.
func (c *Client) Call(ctx context.Context, req *Request) (*Response, error) {
	if req.Platform == "" || req.Scope == "" {
		return nil, errors.ValidationError("request platform and scope are required")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if req.cacheable() {
		if entry, ok := c.cache.Get(ctx, req.cacheKey()); ok {
			metrics.CacheHits.WithLabelValues(req.Platform).Inc()
			return &Response{
				StatusCode:  entry.StatusCode,
				Body:        entry.Body,
				ContentType: entry.ContentType,
				FromCache:   true,
			}, nil
		}
		metrics.CacheMisses.WithLabelValues(req.Platform).Inc()
	}

	refreshedOn401 := false
	rateLimitRetries := 0

	for {
		// Token first: a request that can't authenticate must not burn an
		// admission slot other callers on this platform are waiting for.
		cred, err := c.oauth.Token(ctx, req.Platform, req.Scope)
		if err != nil {
			return nil, err
		}

		if err := c.admit(ctx, req.Platform); err != nil {
			return nil, err
		}

		resp, err := c.execute(ctx, req, cred)
		if err != nil {
			metrics.PlatformRequests.WithLabelValues(req.Platform, "error").Inc()
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if refreshedOn401 {
				// The provider rejected a token we just refreshed; the
				// grant is gone and only the tenant can restore it.
				metrics.PlatformRequests.WithLabelValues(req.Platform, "unauthorized").Inc()
				if markErr := c.creds.MarkError(ctx, req.Platform, req.Scope); markErr != nil {
					c.logger.Error("Failed to mark credential errored", markErr,
						logging.Field{Key: "platform", Value: req.Platform},
						logging.Field{Key: "scope", Value: req.Scope},
					)
				}
				return nil, errors.ReauthorizationError(req.Platform, req.Scope)
			}
			refreshedOn401 = true
			metrics.TokenRefreshes.WithLabelValues(req.Platform, "forced").Inc()
			if _, err := c.oauth.ForceRefresh(ctx, req.Platform, req.Scope); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			penalty := retryAfter(resp.header, defaultPenalty)
			c.limiter.Penalize(req.Platform, penalty)
			metrics.RateLimitPenalties.WithLabelValues(req.Platform).Inc()

			// Only reads are replayed; a throttled write surfaces to the
			// caller, who owns the decision to resend it.
			if req.Method != http.MethodGet || rateLimitRetries >= maxRateLimitRetries {
				metrics.PlatformRequests.WithLabelValues(req.Platform, "rate_limited").Inc()
				return nil, errors.RateLimitError(req.Platform).
					WithContext("retry_after", penalty.String()).
					WithPlatform(req.Platform, req.Scope)
			}
			rateLimitRetries++
			continue

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.limiter.SyncRemote(req.Platform, remoteRemaining(resp.header), remoteReset(resp.header))
			metrics.PlatformRequests.WithLabelValues(req.Platform, "success").Inc()

			if req.cacheable() {
				entry := &respcache.Entry{
					Body:        resp.Body,
					ContentType: resp.ContentType,
					StatusCode:  resp.StatusCode,
				}
				if err := c.cache.Set(ctx, req.cacheKey(), entry, req.CacheTTL); err != nil {
					c.logger.Warn("Failed to cache response",
						logging.Field{Key: "platform", Value: req.Platform},
						logging.Field{Key: "error", Value: err.Error()},
					)
				}
			}

			if err := c.creds.RecordSync(ctx, req.Platform, req.Scope, time.Now().UTC()); err != nil {
				c.logger.Warn("Failed to record sync time",
					logging.Field{Key: "platform", Value: req.Platform},
					logging.Field{Key: "scope", Value: req.Scope},
					logging.Field{Key: "error", Value: err.Error()},
				)
			}

			return &Response{
				StatusCode:  resp.StatusCode,
				Body:        resp.Body,
				ContentType: resp.ContentType,
			}, nil

		default:
			metrics.PlatformRequests.WithLabelValues(req.Platform, "failed").Inc()
			return nil, errors.GatewayError(req.Platform, resp.StatusCode, truncate(string(resp.Body), 2048)).
				WithPlatform(req.Platform, req.Scope)
		}
	}
}

// InvalidateCache drops cached responses for a platform account, e.g. when a
// webhook reports fresh data.
func (c *Client) InvalidateCache(ctx context.Context, platform, scope string) error {
	prefix := respcache.Key(platform, scope)
	return c.cache.InvalidatePrefix(ctx, prefix)
}

// admit blocks on the local rate limiter, recording the wait.
func (c *Client) admit(ctx context.Context, platform string) error {
	start := time.Now()
	err := c.limiter.Admit(ctx, platform)
	metrics.RateLimitWait.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	return err
}

// rawResponse is an executed HTTP exchange before classification.
type rawResponse struct {
	StatusCode  int
	Body        []byte
	ContentType string
	header      http.Header
}

// execute performs the HTTP exchange through the platform's circuit breaker.
// Provider status codes are not errors here; classification happens in Call.
func (c *Client) execute(ctx context.Context, req *Request, cred *credentials.Credential) (*rawResponse, error) {
	provider, err := c.oauth.Provider(req.Platform)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(provider.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if encoded := req.Query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var result *rawResponse
	breaker := c.breakers[req.Platform]

	call := func() error {
		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
		if err != nil {
			return errors.InternalError("failed to build platform request", err)
		}

		httpReq.Header.Set("Authorization", cred.TokenType+" "+cred.AccessToken)
		httpReq.Header.Set("Accept", "application/json")
		if len(req.Body) > 0 {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		for key, value := range req.Headers {
			httpReq.Header.Set(key, value)
		}

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		metrics.PlatformRequestDuration.WithLabelValues(req.Platform).Observe(time.Since(start).Seconds())
		if err != nil {
			return errors.ConnectionError(
				fmt.Sprintf("platform %s request failed", req.Platform), err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return errors.ConnectionError("failed to read platform response", err)
		}

		result = &rawResponse{
			StatusCode:  resp.StatusCode,
			Body:        respBody,
			ContentType: resp.Header.Get("Content-Type"),
			header:      resp.Header,
		}
		return nil
	}

	if breaker != nil {
		err = breaker.Execute(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryAfter parses the Retry-After header, seconds or HTTP-date form.
func retryAfter(header http.Header, fallback time.Duration) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return fallback
}

// remoteRemaining reads the platform's remaining-quota header, -1 when absent.
func remoteRemaining(header http.Header) int {
	for _, name := range []string{"X-RateLimit-Remaining", "X-Rate-Limit-Remaining"} {
		if value := header.Get(name); value != "" {
			if remaining, err := strconv.Atoi(value); err == nil {
				return remaining
			}
		}
	}
	return -1
}

// remoteReset reads the platform's quota-reset header as a Unix timestamp.
func remoteReset(header http.Header) time.Time {
	for _, name := range []string{"X-RateLimit-Reset", "X-Rate-Limit-Reset"} {
		if value := header.Get(name); value != "" {
			if unix, err := strconv.ParseInt(value, 10, 64); err == nil && unix > 0 {
				return time.Unix(unix, 0)
			}
		}
	}
	return time.Time{}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
