package web

import (
	"net/http"

	"fulfillment-engine/internal/app"
)

// holdStock handles POST /api/holds — places or adjusts holds for one owner.
// Line failures come back 200 with the failed lines listed; the caller
// decides whether to retry elsewhere or surface an out-of-stock message.
func (h *Handler) holdStock(w http.ResponseWriter, r *http.Request) {
	var req app.HoldStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OwnerID == "" || len(req.Lines) == 0 {
		writeError(w, r, "owner_id and at least one line are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.HoldStock(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// listHolds handles GET /api/holds/{ownerID}.
func (h *Handler) listHolds(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListHolds(r.Context(), urlParam(r, "ownerID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// releaseHolds handles DELETE /api/holds/{ownerID} — releases every active
// hold the owner has. Releasing an owner with no holds is a no-op, not an
// error.
func (h *Handler) releaseHolds(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ReleaseHolds(r.Context(), urlParam(r, "ownerID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// confirmOrder handles POST /api/holds/{ownerID}/confirm — re-tags a basket's
// holds to the confirmed order and clears their idle timeout.
func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		writeError(w, r, "order_id is required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.ConfirmOrder(r.Context(), urlParam(r, "ownerID"), req.OrderID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
