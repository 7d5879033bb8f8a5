package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"integration-gateway/internal/auth"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/credentials"
)

// Integration handlers

type connectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// ConnectIntegration starts the OAuth flow for a platform
// @Summary Connect a platform
// @Description Builds the provider authorization URL the user is redirected to
// @Tags integrations
// @Produce json
// @Param platform path string true "Platform identifier"
// @Success 200 {object} connectResponse
// @Failure 400 {object} errorResponse "Unknown or disabled platform"
// @Router /api/integrations/{platform}/connect [post]
func (h *Handlers) ConnectIntegration(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	tenant := auth.TenantFromContext(r.Context())

	authURL, err := h.oauth.BuildAuthorizationURL(r.Context(), platform, tenant)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, connectResponse{AuthorizationURL: authURL})
}

// OAuthCallback completes the OAuth flow
// @Summary OAuth provider callback
// @Description Validates state, exchanges the code and stores the credential
// @Tags integrations
// @Produce json
// @Param code query string true "Authorization code"
// @Param state query string true "State parameter from the authorization URL"
// @Success 200 {object} map[string]string
// @Failure 400 {object} errorResponse "Invalid state or rejected code"
// @Router /oauth/callback [get]
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// Providers report user denial through the error parameter
	if errCode := query.Get("error"); errCode != "" {
		h.logger.Warn("Authorization denied by provider",
			logging.Field{Key: "error", Value: errCode},
			logging.Field{Key: "description", Value: query.Get("error_description")},
		)
		h.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("authorization denied: %s", errCode),
			Code:  "authorization_denied",
		})
		return
	}

	cred, err := h.oauth.HandleCallback(r.Context(), query.Get("code"), query.Get("state"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "connected",
		"platform": cred.Platform,
		"scope":    cred.Scope,
	})
}

type integrationSummary struct {
	Platform  string `json:"platform"`
	Scope     string `json:"scope"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at,omitempty"`
	LastSync  string `json:"last_sync,omitempty"`
	Parent    string `json:"parent_scope,omitempty"`
}

// ListIntegrations lists all platform connections
// @Summary List integrations
// @Description Returns every connected, disconnected and errored account
// @Tags integrations
// @Produce json
// @Success 200 {array} integrationSummary
// @Router /api/integrations [get]
func (h *Handlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	creds, err := h.creds.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	summaries := make([]integrationSummary, 0, len(creds))
	for _, cred := range creds {
		summary := integrationSummary{
			Platform: cred.Platform,
			Scope:    cred.Scope,
			Status:   cred.Status,
			Parent:   cred.ParentScope,
		}
		if !cred.ExpiresAt.IsZero() {
			summary.ExpiresAt = cred.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		}
		if cred.LastSync != nil {
			summary.LastSync = cred.LastSync.Format("2006-01-02T15:04:05Z07:00")
		}
		summaries = append(summaries, summary)
	}

	h.writeJSON(w, http.StatusOK, summaries)
}

// DisconnectIntegration disconnects a platform account
// @Summary Disconnect an integration
// @Description Marks the credential disconnected and drops its cached responses
// @Tags integrations
// @Produce json
// @Param platform path string true "Platform identifier"
// @Param scope path string true "Platform account identifier"
// @Success 200 {object} map[string]string
// @Failure 404 {object} errorResponse "Unknown integration"
// @Router /api/integrations/{platform}/{scope} [delete]
func (h *Handlers) DisconnectIntegration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	platform, scope := vars["platform"], vars["scope"]

	if err := h.creds.MarkDisconnected(r.Context(), platform, scope); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.gateway.InvalidateCache(r.Context(), platform, scope); err != nil {
		h.logger.Warn("Failed to invalidate cache on disconnect",
			logging.Field{Key: "platform", Value: platform},
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   credentials.StatusDisconnected,
		"platform": platform,
		"scope":    scope,
	})
}

type delegateRequest struct {
	ParentScope string `json:"parent_scope"`
	ChildScope  string `json:"child_scope"`
}

// DelegateIntegration mints an account-scoped token from an agency credential
// @Summary Delegate an agency credential
// @Description Derives and stores an account-level token for a managed account
// @Tags integrations
// @Accept json
// @Produce json
// @Param platform path string true "Platform identifier"
// @Success 200 {object} integrationSummary
// @Failure 400 {object} errorResponse "Platform has no delegation"
// @Router /api/integrations/{platform}/delegate [post]
func (h *Handlers) DelegateIntegration(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	var req delegateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	cred, err := h.oauth.DeriveScopedToken(r.Context(), platform, req.ParentScope, req.ChildScope)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, integrationSummary{
		Platform: cred.Platform,
		Scope:    cred.Scope,
		Status:   cred.Status,
		Parent:   cred.ParentScope,
	})
}
