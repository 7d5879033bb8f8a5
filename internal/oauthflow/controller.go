package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"integration-gateway/internal/circuitbreaker"
	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/common/utils"
	"integration-gateway/internal/credentials"
)

// RefreshBuffer is how far before expiry a token is refreshed. Tokens inside
// the buffer are treated as already expired so in-flight requests never carry
// a token that dies mid-call.
const RefreshBuffer = 5 * time.Minute

// TokenResponse maps the token endpoint response fields per RFC 6749, plus
// the account identifiers some platforms return alongside the grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// Account identification returned by the CRM platform
	LocationID string `json:"locationId,omitempty"`
	CompanyID  string `json:"companyId,omitempty"`
	UserType   string `json:"userType,omitempty"`

	// Error fields populated on a rejected grant
	ErrorCode        string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Controller drives the OAuth2 lifecycle for all platforms: it builds
// authorization URLs, exchanges callback codes, refreshes expiring tokens and
// mints delegated account tokens. Refreshes are single-flighted per
// credential so concurrent callers share one token endpoint call.
type Controller struct {
	providers  map[string]ProviderConfig
	creds      *credentials.Store
	states     StateStore
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	refreshSF  singleflight.Group
	logger     logging.Logger
}

// NewController creates an OAuth flow controller.
func NewController(
	providers map[string]ProviderConfig,
	creds *credentials.Store,
	states StateStore,
	httpClient *http.Client,
	logger logging.Logger,
) *Controller {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Controller{
		providers:  providers,
		creds:      creds,
		states:     states,
		httpClient: httpClient,
		breaker:    circuitbreaker.NewGoBreaker("oauth-token-endpoint", circuitbreaker.OAuthConfig, logger),
		logger:     logger,
	}
}

// Provider returns the provider config for a platform, or an error when the
// platform is unknown or disabled.
func (c *Controller) Provider(platform string) (ProviderConfig, error) {
	provider, ok := c.providers[platform]
	if !ok {
		return ProviderConfig{}, errors.ValidationError(fmt.Sprintf("platform %s is not configured", platform))
	}
	return provider, nil
}

// BuildAuthorizationURL constructs the provider authorization URL for a
// tenant and registers the pending state so the callback can be validated.
func (c *Controller) BuildAuthorizationURL(ctx context.Context, platform, tenant string) (string, error) {
	provider, err := c.Provider(platform)
	if err != nil {
		return "", err
	}

	nonce, err := utils.GenerateRandomID(32)
	if err != nil {
		return "", errors.InternalError("failed to generate state nonce", err)
	}

	state := OAuthState{
		Tenant:    tenant,
		Platform:  platform,
		Timestamp: time.Now().Unix(),
		Nonce:     nonce,
	}
	encodedState, err := state.Encode()
	if err != nil {
		return "", err
	}

	pending := pendingAuth{State: state}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", provider.ClientID)
	params.Set("redirect_uri", provider.RedirectURL)
	params.Set("scope", strings.Join(provider.Scopes, " "))
	params.Set("state", encodedState)

	if provider.UsePKCE {
		verifier, err := utils.GeneratePKCEVerifier()
		if err != nil {
			return "", errors.InternalError("failed to generate PKCE verifier", err)
		}
		pending.PKCEVerifier = verifier
		params.Set("code_challenge", utils.PKCEChallenge(verifier))
		params.Set("code_challenge_method", "S256")
	}

	if provider.OfflineAccess {
		params.Set("access_type", "offline")
		params.Set("prompt", "consent")
	}

	if err := c.states.Save(ctx, nonce, pending, StateTTL); err != nil {
		return "", err
	}

	c.logger.Info("Authorization URL issued",
		logging.Field{Key: "platform", Value: platform},
		logging.Field{Key: "tenant", Value: tenant},
	)

	return provider.AuthURL + "?" + params.Encode(), nil
}

// HandleCallback validates the state parameter, exchanges the authorization
// code for tokens and stores the resulting credential as connected.
func (c *Controller) HandleCallback(ctx context.Context, code, stateParam string) (*credentials.Credential, error) {
	if code == "" {
		return nil, errors.ValidationError("authorization code is missing")
	}

	state, err := DecodeState(stateParam)
	if err != nil {
		return nil, err
	}

	pending, err := c.states.Consume(ctx, state.Nonce)
	if err != nil {
		return nil, err
	}
	if pending.State.Platform != state.Platform || pending.State.Tenant != state.Tenant {
		return nil, errors.InvalidStateError("state does not match pending authorization")
	}

	provider, err := c.Provider(state.Platform)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)
	form.Set("redirect_uri", provider.RedirectURL)
	if pending.PKCEVerifier != "" {
		form.Set("code_verifier", pending.PKCEVerifier)
	}

	tokenResp, err := c.callTokenEndpoint(ctx, provider.TokenURL, form)
	if err != nil {
		return nil, err
	}

	scope := accountScope(tokenResp, state.Tenant)
	cred := credentialFromResponse(state.Platform, scope, tokenResp)

	if err := c.creds.Upsert(ctx, cred); err != nil {
		return nil, err
	}

	c.logger.Info("Platform connected",
		logging.Field{Key: "platform", Value: state.Platform},
		logging.Field{Key: "scope", Value: scope},
		logging.Field{Key: "tenant", Value: state.Tenant},
	)
	return cred, nil
}

// Token returns a usable access token for a platform account, refreshing it
// first when it expires within RefreshBuffer. Concurrent callers for the same
// credential are coalesced onto a single refresh.
func (c *Controller) Token(ctx context.Context, platform, scope string) (*credentials.Credential, error) {
	cred, err := c.creds.Get(ctx, platform, scope)
	if err != nil {
		return nil, err
	}

	if cred.Status == credentials.StatusError {
		return nil, errors.ReauthorizationError(platform, scope)
	}
	if !cred.Usable() {
		return nil, errors.NotFoundError(fmt.Sprintf("platform %s/%s is not connected", platform, scope))
	}

	if !cred.ExpiresWithin(RefreshBuffer) {
		return cred, nil
	}

	return c.refresh(ctx, platform, scope, cred.AccessToken)
}

// ForceRefresh refreshes a credential regardless of its expiry, used after a
// provider rejects a token the gateway believed was valid.
func (c *Controller) ForceRefresh(ctx context.Context, platform, scope string) (*credentials.Credential, error) {
	cred, err := c.creds.Get(ctx, platform, scope)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, platform, scope, cred.AccessToken)
}

// refresh performs the refresh-token grant behind singleflight. The winner's
// result (or error) is shared by every waiter keyed on the same credential.
// observed is the access token the caller saw; when the stored token already
// differs, another flight refreshed it and that result is returned as-is.
func (c *Controller) refresh(ctx context.Context, platform, scope, observed string) (*credentials.Credential, error) {
	key := platform + ":" + scope

	result, err, _ := c.refreshSF.Do(key, func() (interface{}, error) {
		// Re-read inside the flight: a concurrent winner may have already
		// stored a fresh token while this caller waited.
		current, err := c.creds.Get(ctx, platform, scope)
		if err != nil {
			return nil, err
		}
		if current.Usable() && current.AccessToken != observed && !current.ExpiresWithin(RefreshBuffer) {
			return current, nil
		}

		if current.RefreshToken == "" {
			if markErr := c.creds.MarkError(ctx, platform, scope); markErr != nil {
				c.logger.Error("Failed to mark credential errored", markErr,
					logging.Field{Key: "platform", Value: platform},
					logging.Field{Key: "scope", Value: scope},
				)
			}
			return nil, errors.ReauthorizationError(platform, scope)
		}

		provider, err := c.Provider(platform)
		if err != nil {
			return nil, err
		}

		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", current.RefreshToken)
		form.Set("client_id", provider.ClientID)
		form.Set("client_secret", provider.ClientSecret)

		tokenResp, err := c.callTokenEndpoint(ctx, provider.TokenURL, form)
		if err != nil {
			if errors.IsType(err, errors.ErrTypeReauthorization) {
				if markErr := c.creds.MarkError(ctx, platform, scope); markErr != nil {
					c.logger.Error("Failed to mark credential errored", markErr,
						logging.Field{Key: "platform", Value: platform},
						logging.Field{Key: "scope", Value: scope},
					)
				}
				return nil, errors.ReauthorizationError(platform, scope)
			}
			return nil, err
		}

		fresh := credentialFromResponse(platform, scope, tokenResp)
		fresh.ParentScope = current.ParentScope
		// Providers that rotate refresh tokens return a new one; those that
		// don't expect the old token to keep being used.
		if fresh.RefreshToken == "" {
			fresh.RefreshToken = current.RefreshToken
		}

		if err := c.creds.Upsert(ctx, fresh); err != nil {
			return nil, err
		}

		c.logger.Info("Token refreshed",
			logging.Field{Key: "platform", Value: platform},
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "expires_at", Value: fresh.ExpiresAt},
		)
		return fresh, nil
	})

	if err != nil {
		return nil, err
	}
	return result.(*credentials.Credential), nil
}

// DeriveScopedToken mints an account-level token from an agency credential
// for platforms that support delegation. The delegated credential is stored
// under the child scope with a reference to its parent.
func (c *Controller) DeriveScopedToken(ctx context.Context, platform, parentScope, childScope string) (*credentials.Credential, error) {
	provider, err := c.Provider(platform)
	if err != nil {
		return nil, err
	}
	if provider.DelegationURL == "" {
		return nil, errors.ValidationError(fmt.Sprintf("platform %s does not support token delegation", platform))
	}

	parent, err := c.Token(ctx, platform, parentScope)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("companyId", parentScope)
	form.Set("locationId", childScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.DelegationURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to build delegation request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+parent.AccessToken)

	tokenResp, err := c.doTokenRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	child := credentialFromResponse(platform, childScope, tokenResp)
	child.ParentScope = parentScope

	if err := c.creds.Upsert(ctx, child); err != nil {
		return nil, err
	}

	c.logger.Info("Delegated token minted",
		logging.Field{Key: "platform", Value: platform},
		logging.Field{Key: "parent_scope", Value: parentScope},
		logging.Field{Key: "scope", Value: childScope},
	)
	return child, nil
}

// callTokenEndpoint posts a form grant to the token endpoint.
func (c *Controller) callTokenEndpoint(ctx context.Context, tokenURL string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	return c.doTokenRequest(ctx, req)
}

// tokenRetryConfig retries token endpoint calls on transport-level failures
// only; a grant the provider actually rejected is never replayed.
func tokenRetryConfig() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: func(err error) bool {
			return errors.IsType(err, errors.ErrTypeConnection)
		},
	}
}

// doTokenRequest executes a token endpoint request through the circuit
// breaker and classifies the response. Connection failures are retried with
// backoff; each attempt sends a fresh clone of the request.
func (c *Controller) doTokenRequest(ctx context.Context, req *http.Request) (*TokenResponse, error) {
	var tokenResp TokenResponse

	err := utils.RetryWithBackoff(ctx, tokenRetryConfig(), func() error {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return errors.InternalError("failed to rebuild token request body", err)
			}
			attempt.Body = body
		}

		return c.breaker.Execute(ctx, func() error {
			resp, err := c.httpClient.Do(attempt)
			if err != nil {
				return errors.ConnectionError("token endpoint request failed", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return errors.ConnectionError("failed to read token response", err)
			}

			if resp.StatusCode != http.StatusOK {
				// invalid_grant means the refresh token itself is dead; only a
				// user can fix that by reconnecting.
				if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
					var errResp TokenResponse
					_ = json.Unmarshal(body, &errResp)
					if errResp.ErrorCode == "invalid_grant" {
						return errors.ReauthorizationError("", "")
					}
				}
				return errors.TokenExchangeError(
					fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode), string(body))
			}

			if err := json.Unmarshal(body, &tokenResp); err != nil {
				return errors.TokenExchangeError("token endpoint returned malformed JSON", string(body))
			}
			if tokenResp.AccessToken == "" {
				return errors.TokenExchangeError("token endpoint returned no access token", string(body))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// accountScope picks the platform account identifier for a fresh connection:
// the account IDs returned with the grant when present, the tenant otherwise.
func accountScope(resp *TokenResponse, tenant string) string {
	if resp.LocationID != "" {
		return resp.LocationID
	}
	if resp.CompanyID != "" {
		return resp.CompanyID
	}
	return tenant
}

// credentialFromResponse builds a connected credential from a token response.
func credentialFromResponse(platform, scope string, resp *TokenResponse) *credentials.Credential {
	now := time.Now().UTC()

	var expiresAt time.Time
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	var scopes []string
	if resp.Scope != "" {
		scopes = strings.Fields(resp.Scope)
	}

	return &credentials.Credential{
		Platform:     platform,
		Scope:        scope,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		Scopes:       scopes,
		IssuedAt:     now,
		ExpiresAt:    expiresAt,
		Status:       credentials.StatusConnected,
	}
}
