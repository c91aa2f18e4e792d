/*
handlers.go - HTTP handlers for the fulfillment ledger

PURPOSE:
  Exposes the delivery lifecycle and reconciliation operations over
  REST, maps domain errors to transport status codes, and owns nothing
  else: quantity validation lives in the ledger, lifecycle rules in the
  delivery package.

ENDPOINTS:
  Orders:
    POST   /api/orders                    Create order with lines
    GET    /api/orders/{id}               Order with lines + derived totals
    POST   /api/orders/{id}/recalculate   Run reconciliation/repair

  Deliveries:
    POST   /api/deliveries                Record a delivery
    GET    /api/deliveries/{id}           Delivery with lines
    PUT    /api/deliveries/{id}           Amend status and/or line set
    DELETE /api/deliveries/{id}           Remove and restore quantities

  Audit:
    GET    /api/audit?order_line_id=&limit=   Newest-first change log

ERROR MAPPING:
  400 invalid quantity / invalid transition / malformed body
  404 order, order line, delivery not found
  409 insufficient remaining quantity, duplicate order line
  503 identifier allocation exhausted (safe to retry)
  500 anything else; a DirectMutationForbidden here means a bug, not
      a client mistake, and is deliberately not dressed up as 4xx

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: router and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/fulfillment-ledger/codes"
	"github.com/warp/fulfillment-ledger/delivery"
	"github.com/warp/fulfillment-ledger/ledger"
	"github.com/warp/fulfillment-ledger/reconcile"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.TxStore
	Deliveries *delivery.Service
	Reconciler *reconcile.Service
	Alloc      *codes.Allocator

	now func() time.Time
}

// NewHandler wires the handler over one store.
func NewHandler(store ledger.TxStore) *Handler {
	alloc := codes.New(store)
	return &Handler{
		Store:      store,
		Deliveries: delivery.NewService(store, alloc),
		Reconciler: reconcile.NewService(store),
		Alloc:      alloc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder creates an order and its lines. Each line starts with
// remaining = requested; from here on only the ledger moves it.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "Order needs at least one line", nil)
		return
	}
	for _, l := range req.Lines {
		if l.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "quantity_requested must be a positive integer", ledger.ErrInvalidQuantity)
			return
		}
	}

	ctx := r.Context()
	now := h.now()
	order := ledger.Order{
		ID:        ledger.OrderID(uuid.NewString()),
		Reference: req.Reference,
		Active:    true,
		CreatedAt: now,
	}
	var lines []ledger.OrderLine

	prefix := codes.OrderPrefix(now.Year())
	_, err := h.Alloc.Next(ctx, prefix, func(code string) error {
		lines = lines[:0]
		return h.Store.WithTx(ctx, func(st ledger.Store) error {
			order.Code = code
			if err := st.SaveOrder(ctx, order); err != nil {
				return err
			}
			for _, in := range req.Lines {
				line := ledger.OrderLine{
					ID:        ledger.OrderLineID(uuid.NewString()),
					OrderID:   order.ID,
					Product:   in.Product,
					Requested: in.Quantity,
					Remaining: in.Quantity,
					CreatedAt: now,
				}
				if err := st.SaveOrderLine(ctx, line); err != nil {
					return err
				}
				lines = append(lines, line)
			}
			return nil
		})
	})
	if err != nil {
		writeDomainError(w, "Failed to create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderDTO(order, lines))
}

// GetOrder returns an order with its lines and derived totals.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.OrderID(chi.URLParam(r, "id"))

	order, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load order", err)
		return
	}
	if order == nil {
		writeError(w, http.StatusNotFound, "Order not found", nil)
		return
	}
	lines, err := h.Store.OrderLines(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load order lines", err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDTO(*order, lines))
}

// Recalculate runs the reconciliation/repair service over one order.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := ledger.OrderID(chi.URLParam(r, "id"))

	report, err := h.Reconciler.Recalculate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalculateResponse(report))
}

// =============================================================================
// DELIVERY HANDLERS
// =============================================================================

// CreateDelivery records a delivery against an order.
func (h *Handler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse(dateFormat, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	lines, err := toLineInputs(req.Lines)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delivery lines", err)
		return
	}

	d, err := h.Deliveries.Create(r.Context(), ledger.OrderID(req.OrderID), lines, date, ledger.DeliveryStatus(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to create delivery", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryDTO(*d))
}

// GetDelivery returns one delivery with its lines.
func (h *Handler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	id := ledger.DeliveryID(chi.URLParam(r, "id"))

	d, err := h.Store.GetDelivery(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load delivery", err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "Delivery not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryDTO(*d))
}

// UpdateDelivery amends a delivery's status and/or replaces its lines.
func (h *Handler) UpdateDelivery(w http.ResponseWriter, r *http.Request) {
	id := ledger.DeliveryID(chi.URLParam(r, "id"))

	var req UpdateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var upd delivery.Update
	if req.Status != nil {
		status := ledger.DeliveryStatus(*req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown delivery status", fmt.Errorf("%q", *req.Status))
			return
		}
		upd.Status = &status
	}
	if req.Lines != nil {
		lines, err := toLineInputs(*req.Lines)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid delivery lines", err)
			return
		}
		upd.Lines = &lines
	}

	d, err := h.Deliveries.ApplyUpdate(r.Context(), id, upd)
	if err != nil {
		writeDomainError(w, "Failed to update delivery", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryDTO(*d))
}

// RemoveDelivery deletes a delivery and restores its quantities.
func (h *Handler) RemoveDelivery(w http.ResponseWriter, r *http.Request) {
	id := ledger.DeliveryID(chi.URLParam(r, "id"))

	if err := h.Deliveries.Remove(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to remove delivery", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AUDIT HANDLER
// =============================================================================

// AuditLog returns recent quantity changes, newest first.
func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	var lineID *ledger.OrderLineID
	if v := r.URL.Query().Get("order_line_id"); v != "" {
		id := ledger.OrderLineID(v)
		lineID = &id
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	entries, err := h.Reconciler.AuditLog(r.Context(), lineID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditEntryDTOs(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

func toLineInputs(reqs []DeliveryLineRequest) ([]delivery.LineInput, error) {
	lines := make([]delivery.LineInput, 0, len(reqs))
	for _, l := range reqs {
		price := decimal.Zero
		if l.UnitPrice != "" {
			var err error
			price, err = decimal.NewFromString(l.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("invalid unit_price %q: %w", l.UnitPrice, err)
			}
		}
		lines = append(lines, delivery.LineInput{
			OrderLineID: ledger.OrderLineID(l.OrderLineID),
			Quantity:    l.Quantity,
			UnitPrice:   price,
		})
	}
	return lines, nil
}

// writeDomainError translates the ledger error taxonomy into HTTP.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrInsufficientRemaining),
		errors.Is(err, ledger.ErrDuplicateOrderLine):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case ledger.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		// Includes ErrDirectMutationForbidden: a caller bug, not client input.
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
