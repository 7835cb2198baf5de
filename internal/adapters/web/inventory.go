package web

import (
	"net/http"
	"strconv"

	"fulfillment-engine/internal/app"
)

// availability handles GET /api/availability/{sku}?location_id=N or
// ?pool_id=N. Exactly one of the two query parameters must be given.
func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	sku := urlParam(r, "sku")
	locationRaw := r.URL.Query().Get("location_id")
	poolRaw := r.URL.Query().Get("pool_id")

	switch {
	case locationRaw != "" && poolRaw == "":
		locationID, err := strconv.Atoi(locationRaw)
		if err != nil {
			writeError(w, r, "invalid location_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		result, err := h.svc.GetAvailability(r.Context(), sku, locationID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	case poolRaw != "" && locationRaw == "":
		poolID, err := strconv.Atoi(poolRaw)
		if err != nil {
			writeError(w, r, "invalid pool_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		result, err := h.svc.GetPoolAvailability(r.Context(), sku, poolID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	default:
		writeError(w, r, "exactly one of location_id or pool_id is required", "BAD_REQUEST", http.StatusBadRequest)
	}
}

// receiveStock handles POST /api/stock/receive — records a goods receipt and
// drains any matching announced inbound quantity.
func (h *Handler) receiveStock(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.ReceiveStock(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordInbound handles POST /api/stock/inbound — registers stock on its way
// to a location.
func (h *Handler) recordInbound(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.RecordInbound(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listLocations handles GET /api/locations.
func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListLocations(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
