/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract.

NAMING CONVENTION:
  - *DTO: response types returned to clients
  - *Request: request body types from clients

VALIDATION:
  Handlers validate shape and formats (dates, decimals); quantity and
  lifecycle validation always belongs to the ledger and delivery
  packages, never here. In particular, handlers must not pre-filter on a
  stale remaining-quantity snapshot.
*/
package api

import (
	"github.com/warp/fulfillment-ledger/ledger"
	"github.com/warp/fulfillment-ledger/reconcile"
)

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrderRequest creates an order with its lines.
type CreateOrderRequest struct {
	Reference string                   `json:"reference"`
	Lines     []CreateOrderLineRequest `json:"lines"`
}

type CreateOrderLineRequest struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity_requested"`
}

type OrderDTO struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Reference string        `json:"reference"`
	Active    bool          `json:"active"`
	Lines     []OrderLineDTO `json:"lines"`
	Totals    OrderTotalsDTO `json:"totals"`
	CreatedAt string        `json:"created_at"`
}

type OrderLineDTO struct {
	ID        string `json:"id"`
	Product   string `json:"product"`
	Requested int64  `json:"quantity_requested"`
	Remaining int64  `json:"quantity_remaining"`
	Delivered int64  `json:"quantity_delivered"`
}

type OrderTotalsDTO struct {
	Requested int64 `json:"requested"`
	Delivered int64 `json:"delivered"`
	Remaining int64 `json:"remaining"`
}

// =============================================================================
// DELIVERIES
// =============================================================================

// CreateDeliveryRequest records a new delivery. Status is optional and
// defaults to PENDING; DELIVERED is the only other accepted value.
type CreateDeliveryRequest struct {
	OrderID string                 `json:"order_id"`
	Date    string                 `json:"date"` // YYYY-MM-DD
	Status  string                 `json:"status,omitempty"`
	Lines   []DeliveryLineRequest  `json:"lines"`
}

type DeliveryLineRequest struct {
	OrderLineID string `json:"order_line_id"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

// UpdateDeliveryRequest amends a delivery. Omitted fields are left
// untouched; a present "lines" replaces the whole line set.
type UpdateDeliveryRequest struct {
	Status *string                `json:"status,omitempty"`
	Lines  *[]DeliveryLineRequest `json:"lines,omitempty"`
}

type DeliveryDTO struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	Code      string            `json:"code"`
	Date      string            `json:"date"`
	Status    string            `json:"status"`
	Lines     []DeliveryLineDTO `json:"lines"`
	CreatedAt string            `json:"created_at"`
}

type DeliveryLineDTO struct {
	ID          string `json:"id"`
	OrderLineID string `json:"order_line_id"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalAmount string `json:"total_amount"`
}

// =============================================================================
// RECONCILIATION & AUDIT
// =============================================================================

type RecalculateResponse struct {
	OrderID     string          `json:"order_id"`
	LinesTotal  int             `json:"lines_total"`
	Corrections []CorrectionDTO `json:"corrections"`
	RanAt       string          `json:"ran_at"`
}

type CorrectionDTO struct {
	OrderLineID string `json:"order_line_id"`
	Before      int64  `json:"quantity_before"`
	After       int64  `json:"quantity_after"`
	Delivered   int64  `json:"total_delivered"`
}

type AuditEntryDTO struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind"`
	OrderLineID    string  `json:"order_line_id"`
	DeliveryLineID *string `json:"delivery_line_id,omitempty"`
	Before         int64   `json:"quantity_before"`
	After          int64   `json:"quantity_after"`
	Delta          int64   `json:"delta"`
	RecordedAt     string  `json:"recorded_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toOrderDTO(o ledger.Order, lines []ledger.OrderLine) OrderDTO {
	dto := OrderDTO{
		ID:        string(o.ID),
		Code:      o.Code,
		Reference: o.Reference,
		Active:    o.Active,
		Lines:     make([]OrderLineDTO, 0, len(lines)),
		CreatedAt: o.CreatedAt.Format(timeFormat),
	}
	for _, l := range lines {
		dto.Lines = append(dto.Lines, OrderLineDTO{
			ID:        string(l.ID),
			Product:   l.Product,
			Requested: l.Requested,
			Remaining: l.Remaining,
			Delivered: l.Delivered(),
		})
	}
	t := ledger.TotalsOf(lines)
	dto.Totals = OrderTotalsDTO{Requested: t.Requested, Delivered: t.Delivered, Remaining: t.Remaining}
	return dto
}

func toDeliveryDTO(d ledger.Delivery) DeliveryDTO {
	dto := DeliveryDTO{
		ID:        string(d.ID),
		OrderID:   string(d.OrderID),
		Code:      d.Code,
		Date:      d.Date.Format(dateFormat),
		Status:    string(d.Status),
		Lines:     make([]DeliveryLineDTO, 0, len(d.Lines)),
		CreatedAt: d.CreatedAt.Format(timeFormat),
	}
	for _, l := range d.Lines {
		dto.Lines = append(dto.Lines, DeliveryLineDTO{
			ID:          string(l.ID),
			OrderLineID: string(l.OrderLineID),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.String(),
			TotalAmount: l.Total().String(),
		})
	}
	return dto
}

func toRecalculateResponse(r *reconcile.Report) RecalculateResponse {
	resp := RecalculateResponse{
		OrderID:     string(r.OrderID),
		LinesTotal:  r.LinesTotal,
		Corrections: make([]CorrectionDTO, 0, len(r.Corrections)),
		RanAt:       r.RanAt.Format(timeFormat),
	}
	for _, c := range r.Corrections {
		resp.Corrections = append(resp.Corrections, CorrectionDTO{
			OrderLineID: string(c.OrderLineID),
			Before:      c.Before,
			After:       c.After,
			Delivered:   c.Delivered,
		})
	}
	return resp
}

func toAuditEntryDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := AuditEntryDTO{
			ID:          e.ID,
			Kind:        string(e.Kind),
			OrderLineID: string(e.OrderLineID),
			Before:      e.Before,
			After:       e.After,
			Delta:       e.Delta,
			RecordedAt:  e.RecordedAt.Format(timeFormat),
		}
		if e.DeliveryLineID != nil {
			s := string(*e.DeliveryLineID)
			dto.DeliveryLineID = &s
		}
		dtos = append(dtos, dto)
	}
	return dtos
}
