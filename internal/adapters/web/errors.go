package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment-engine/internal/core"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps engine errors onto HTTP statuses. Business outcomes
// the caller can act on (shortfalls, state conflicts) get 4xx with a stable
// code; a concurrency conflict that survived internal retries gets 503 so the
// client knows a plain retry is appropriate.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *core.InsufficientStockError
	var stateConflict *core.StateConflictError
	var unfulfillable *core.UnfulfillableError

	switch {
	case errors.As(err, &insufficient):
		writeError(w, r, insufficient.Error(), "INSUFFICIENT_STOCK", http.StatusConflict)
	case errors.As(err, &stateConflict):
		writeError(w, r, stateConflict.Error(), "STATE_CONFLICT", http.StatusConflict)
	case errors.As(err, &unfulfillable):
		writeError(w, r, unfulfillable.Error(), "UNFULFILLABLE", http.StatusConflict)
	case errors.Is(err, core.ErrReservedUnderflow), errors.Is(err, core.ErrAllocatedUnderflow):
		writeError(w, r, err.Error(), "QUANTITY_CONFLICT", http.StatusConflict)
	case errors.Is(err, core.ErrRuleNotFound):
		writeError(w, r, err.Error(), "RULE_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrLevelNotFound):
		writeError(w, r, err.Error(), "LEVEL_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrReservationNotFound):
		writeError(w, r, err.Error(), "RESERVATION_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrAllocationNotFound):
		writeError(w, r, err.Error(), "ALLOCATION_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrPoolNotFound):
		writeError(w, r, err.Error(), "POOL_NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, core.ErrLocationInactive):
		writeError(w, r, err.Error(), "LOCATION_INACTIVE", http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrInvalidQuantity):
		writeError(w, r, err.Error(), "BAD_REQUEST", http.StatusBadRequest)
	case errors.Is(err, core.ErrConcurrencyConflict):
		writeError(w, r, err.Error(), "CONCURRENCY_CONFLICT", http.StatusServiceUnavailable)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
