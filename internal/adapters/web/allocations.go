package web

import (
	"context"
	"net/http"

	"fulfillment-engine/internal/app"
	"fulfillment-engine/internal/core"
)

// routeOrder handles POST /api/routing/select — dry-run routing: which rule
// wins and which locations would serve the order, without committing stock.
func (h *Handler) routeOrder(w http.ResponseWriter, r *http.Request) {
	var req app.OrderContextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.RouteOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// refreshRouting handles POST /api/routing/refresh — reloads rule and
// location snapshots ahead of their cache TTL, for use after rule edits.
func (h *Handler) refreshRouting(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RefreshRouting(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// allocateOrder handles POST /api/orders/{orderID}/allocate.
func (h *Handler) allocateOrder(w http.ResponseWriter, r *http.Request) {
	var ctxReq app.OrderContextRequest
	if !decodeJSON(w, r, &ctxReq) {
		return
	}
	req := app.AllocateOrderRequest{OrderID: urlParam(r, "orderID"), Context: ctxReq}
	if req.OrderID == "" || len(req.Context.Lines) == 0 {
		writeError(w, r, "order id and at least one line are required", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.svc.AllocateOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Shortfalls ride along in the body; 207 would be overkill for two
	// well-known outcomes.
	writeJSON(w, result)
}

// listAllocations handles GET /api/orders/{orderID}/allocations.
func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ListAllocations(r.Context(), urlParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) markPicked(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkPicked)
}

func (h *Handler) markPacked(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkPacked)
}

func (h *Handler) markShipped(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkShipped)
}

func (h *Handler) cancelAllocation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.CancelAllocation)
}

func (h *Handler) markReturned(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.MarkReturned)
}

// transition applies one lifecycle step to the allocation in {id} and returns
// the updated allocation.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*core.StockAllocation, error)) {
	alloc, err := fn(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, alloc)
}
