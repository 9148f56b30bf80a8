// Package api serves the storefront's public HTTP routes.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"storefront/server/internal/catalog"
	"storefront/server/internal/middleware"
	"storefront/server/internal/observability"
)

// maxOrderBody caps the size of an order request body.
const maxOrderBody = 64 << 10

// Handler serves the storefront API.
type Handler struct {
	products       catalog.ProductLister
	orders         catalog.OrderAppender
	instanceID     string
	instanceRegion string
	now            func() time.Time
	newID          func() string
}

// NewHandler creates the API handler.
func NewHandler(products catalog.ProductLister, orders catalog.OrderAppender, instanceID, instanceRegion string) *Handler {
	return &Handler{
		products:       products,
		orders:         orders,
		instanceID:     instanceID,
		instanceRegion: instanceRegion,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Register mounts the routes on mux. The order endpoint is wrapped with the
// rate limiter when one is given.
func (h *Handler) Register(mux *http.ServeMux, limiter *middleware.RateLimiter) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/products", h.ListProducts)

	var createOrder http.Handler = http.HandlerFunc(h.CreateOrder)
	if limiter != nil {
		createOrder = limiter.Middleware(createOrder)
	}
	mux.Handle("POST /api/orders", createOrder)
}

// Health reports liveness and the serving instance.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Instance-ID", h.instanceID)
	w.Header().Set("X-Instance-Region", h.instanceRegion)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"instance": h.instanceID,
		"region":   h.instanceRegion,
	})
}

// ListProducts returns the product catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		h.internalError(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

type orderRequest struct {
	CustomerName  string              `json:"customerName"`
	CustomerEmail string              `json:"customerEmail"`
	Items         []catalog.OrderItem `json:"items"`
	Note          string              `json:"note"`
}

// validate returns a user-facing message for the first problem found.
func (req orderRequest) validate() string {
	switch {
	case strings.TrimSpace(req.CustomerName) == "":
		return "customerName is required"
	case !strings.Contains(req.CustomerEmail, "@"):
		return "customerEmail must be a valid email address"
	case len(req.Items) == 0:
		return "at least one item is required"
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return "each item needs a productId"
		}
		if item.Quantity < 1 {
			return "each item needs a quantity of at least 1"
		}
	}
	return ""
}

// CreateOrder validates and records a new order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body must be valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	order := catalog.Order{
		ID:            h.newID(),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Items:         req.Items,
		Note:          req.Note,
		CreatedAt:     h.now().UTC(),
	}
	if err := h.orders.AppendOrder(r.Context(), order); err != nil {
		h.internalError(w, r, "append order", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"orderId":   order.ID,
		"createdAt": order.CreatedAt.Format(time.RFC3339),
	})
}

// internalError logs the full error chain and responds with a generic body.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	requestID := middleware.GetRequestID(r.Context())
	log.Printf("[api] %s failed (request %s): %v", op, requestID, err)
	observability.LogError(op, err)
	writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
