// Package handlers implements the gateway's HTTP API: integration lifecycle,
// the OAuth callback, report aggregation, inbound webhooks and health.
package handlers

import (
	"encoding/json"
	"net/http"

	"integration-gateway/internal/aggregator"
	"integration-gateway/internal/common/errors"
	"integration-gateway/internal/common/logging"
	"integration-gateway/internal/config"
	"integration-gateway/internal/credentials"
	"integration-gateway/internal/gateway"
	"integration-gateway/internal/oauthflow"
	"integration-gateway/internal/storage"
)

type Handlers struct {
	config     *config.Config
	storage    storage.Storage
	creds      *credentials.Store
	oauth      *oauthflow.Controller
	gateway    *gateway.Client
	aggregator *aggregator.Aggregator
	logger     logging.Logger
}

func New(
	cfg *config.Config,
	backend storage.Storage,
	creds *credentials.Store,
	oauth *oauthflow.Controller,
	gw *gateway.Client,
	agg *aggregator.Aggregator,
	logger logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		config:     cfg,
		storage:    backend,
		creds:      creds,
		oauth:      oauth,
		gateway:    gw,
		aggregator: agg,
		logger:     logger,
	}
}

// writeJSON writes a JSON response with the given status.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("Failed to encode response", err)
		}
	}
}

// errorResponse is the API's error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError maps an application error onto an HTTP status and envelope.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""
	message := "internal server error"

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		code = appErr.Code

		switch appErr.Type {
		case errors.ErrTypeValidation, errors.ErrTypeInvalidState:
			status = http.StatusBadRequest
		case errors.ErrTypeNotFound:
			status = http.StatusNotFound
		case errors.ErrTypeRateLimited:
			status = http.StatusTooManyRequests
		case errors.ErrTypeReauthorization:
			status = http.StatusConflict
			code = "reauthorization_required"
		case errors.ErrTypeGateway, errors.ErrTypeTokenExchange:
			status = http.StatusBadGateway
		case errors.ErrTypeConnection:
			status = http.StatusServiceUnavailable
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", err)
	}

	h.writeJSON(w, status, errorResponse{Error: message, Code: code})
}
