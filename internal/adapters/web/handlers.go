package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"fulfillment-engine/internal/app"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler holds the FulfillmentService and the chi router.
type Handler struct {
	svc       app.FulfillmentService
	router    chi.Router
	jwtSecret string
	log       *zap.Logger
}

// NewHandler creates and wires the chi router with all routes. An empty
// jwtSecret disables authentication; intended for local development only.
func NewHandler(svc app.FulfillmentService, allowedOrigins, jwtSecret string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, jwtSecret: jwtSecret, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	// ── Health (public) ───────────────────────────────────────────────────────
	r.Get("/api/health", h.health)

	// ── Protected API routes (401 JSON if unauthenticated) ───────────────────
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// Holds
		r.Post("/api/holds", h.holdStock)
		r.Get("/api/holds/{ownerID}", h.listHolds)
		r.Delete("/api/holds/{ownerID}", h.releaseHolds)
		r.Post("/api/holds/{ownerID}/confirm", h.confirmOrder)

		// Routing
		r.Post("/api/routing/select", h.routeOrder)
		r.Post("/api/routing/refresh", h.refreshRouting)

		// Allocation and fulfillment lifecycle
		r.Post("/api/orders/{orderID}/allocate", h.allocateOrder)
		r.Get("/api/orders/{orderID}/allocations", h.listAllocations)
		r.Post("/api/allocations/{id}/pick", h.markPicked)
		r.Post("/api/allocations/{id}/pack", h.markPacked)
		r.Post("/api/allocations/{id}/ship", h.markShipped)
		r.Post("/api/allocations/{id}/cancel", h.cancelAllocation)
		r.Post("/api/allocations/{id}/return", h.markReturned)

		// Inventory
		r.Get("/api/availability/{sku}", h.availability)
		r.Post("/api/stock/receive", h.receiveStock)
		r.Post("/api/stock/inbound", h.recordInbound)
		r.Get("/api/locations", h.listLocations)
	})

	h.router = r
	return r
}

// health returns service status.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

// decodeJSON decodes the request body into v and returns false + writes an
// appropriate error response on failure. Returns HTTP 413 when the body
// exceeds the size limit set by RequestBodyLimit middleware; HTTP 400 for all
// other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// urlParam extracts a chi URL parameter.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}
