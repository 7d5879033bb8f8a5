package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/signature"
)

// webhookEvent is the minimal envelope platforms post: enough to identify
// the account whose cached data went stale.
type webhookEvent struct {
	Type       string `json:"type"`
	LocationID string `json:"locationId,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

// scope picks whichever account identifier the platform sent.
func (e webhookEvent) scope() string {
	if e.LocationID != "" {
		return e.LocationID
	}
	return e.AccountID
}

// HandleWebhook ingests platform change notifications
// @Summary Platform webhook
// @Description Verifies the HMAC signature and invalidates the account's cached responses
// @Tags webhooks
// @Accept json
// @Param platform path string true "Platform identifier"
// @Success 204 "Accepted"
// @Failure 401 {object} errorResponse "Bad signature"
// @Router /webhooks/{platform} [post]
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]

	platformCfg, ok := h.config.Platforms[platform]
	if !ok {
		http.Error(w, `{"error":"unknown platform"}`, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	verifier := signature.NewVerifier(platformCfg.WebhookSecret)
	sig := r.Header.Get("X-Signature")
	if sig == "" {
		sig = r.Header.Get("X-Hub-Signature-256")
	}
	if err := verifier.Verify(body, sig); err != nil {
		h.logger.Warn("Webhook signature rejected",
			logging.Field{Key: "platform", Value: platform},
			logging.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	// Fresh data landed upstream: drop the account's memoized responses so
	// the next dashboard read sees it.
	scope := event.scope()
	if scope != "" {
		if err := h.gateway.InvalidateCache(r.Context(), platform, scope); err != nil {
			h.logger.Warn("Webhook cache invalidation failed",
				logging.Field{Key: "platform", Value: platform},
				logging.Field{Key: "scope", Value: scope},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	}

	h.logger.Info("Webhook processed",
		logging.Field{Key: "platform", Value: platform},
		logging.Field{Key: "type", Value: event.Type},
		logging.Field{Key: "scope", Value: scope},
	)
	w.WriteHeader(http.StatusNoContent)
}
