package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"integration-gateway/internal/aggregator"
	"integration-gateway/internal/common/errors"
)

// decodeJSON parses a JSON request body with a size cap.
func decodeJSON(r *http.Request, target interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return errors.ValidationError("failed to read request body")
	}
	if len(body) == 0 {
		return errors.ValidationError("request body is required")
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errors.ValidationError("invalid JSON body")
	}
	return nil
}

// GetReport builds the aggregated cross-platform report
// @Summary Aggregated report
// @Description Fans out over connected accounts and folds responses into one document
// @Tags report
// @Produce json
// @Param start query string false "Range start (YYYY-MM-DD), default 30 days ago"
// @Param end query string false "Range end (YYYY-MM-DD), default today"
// @Param platform query string false "Restrict to one platform"
// @Success 200 {object} aggregator.Report
// @Failure 400 {object} errorResponse "Malformed date range"
// @Router /api/report [get]
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	dateRange, err := parseDateRange(query.Get("start"), query.Get("end"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	platform := query.Get("platform")
	if platform != "" {
		if _, err := h.oauth.Provider(platform); err != nil {
			h.writeError(w, err)
			return
		}
	}

	report, err := h.aggregator.BuildReport(r.Context(), platform, dateRange)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// parseDateRange resolves the requested reporting period, defaulting to the
// trailing 30 days.
func parseDateRange(start, end string) (aggregator.DateRange, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	dateRange := aggregator.DateRange{
		Start: now.AddDate(0, 0, -30),
		End:   now,
	}

	var err error
	if start != "" {
		dateRange.Start, err = time.Parse("2006-01-02", start)
		if err != nil {
			return dateRange, errors.ValidationError("invalid start date, expected YYYY-MM-DD")
		}
	}
	if end != "" {
		dateRange.End, err = time.Parse("2006-01-02", end)
		if err != nil {
			return dateRange, errors.ValidationError("invalid end date, expected YYYY-MM-DD")
		}
	}
	if dateRange.End.Before(dateRange.Start) {
		return dateRange, errors.ValidationError("end date precedes start date")
	}
	return dateRange, nil
}
