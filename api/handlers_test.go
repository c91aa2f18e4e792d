/*
handlers_test.go - End-to-end tests for the HTTP surface

Drives the full stack (router, handlers, services, ledger) over the
in-memory store through httptest.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fulfillment-ledger/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHandler(store.NewMemory())
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// createOrder creates an order with one 100-unit line and returns its
// DTO.
func createOrder(t *testing.T, srv *httptest.Server) OrderDTO {
	t.Helper()
	var order OrderDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/orders", CreateOrderRequest{
		Reference: "acme",
		Lines:     []CreateOrderLineRequest{{Product: "widget", Quantity: 100}},
	}, &order)
	require.Equal(t, http.StatusCreated, status)
	require.Len(t, order.Lines, 1)
	return order
}

func deliveryReq(orderID, lineID string, qty int64) CreateDeliveryRequest {
	return CreateDeliveryRequest{
		OrderID: orderID,
		Date:    "2026-09-01",
		Lines: []DeliveryLineRequest{
			{OrderLineID: lineID, Quantity: qty, UnitPrice: "12.50"},
		},
	}
}

// =============================================================================
// FULL FLOW
// =============================================================================

func TestFullDeliveryFlow(t *testing.T) {
	// GIVEN: An order with a 100-unit line
	// WHEN: A 30-unit delivery is created, amended to 45, then deleted
	// THEN: Remaining tracks 100 -> 70 -> 55 -> 100 throughout

	srv := newTestServer(t)
	order := createOrder(t, srv)
	lineID := order.Lines[0].ID

	assert.NotEmpty(t, order.Code)
	assert.Equal(t, int64(100), order.Totals.Remaining)

	// Create.
	var d DeliveryDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/deliveries", deliveryReq(order.ID, lineID, 30), &d)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "DEL-000001", d.Code)
	assert.Equal(t, "PENDING", d.Status)
	require.Len(t, d.Lines, 1)
	assert.Equal(t, "375", d.Lines[0].TotalAmount)

	var got OrderDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/orders/"+order.ID, nil, &got)
	assert.Equal(t, int64(70), got.Totals.Remaining)
	assert.Equal(t, int64(30), got.Totals.Delivered)

	// Amend.
	upd := UpdateDeliveryRequest{Lines: &[]DeliveryLineRequest{
		{OrderLineID: lineID, Quantity: 45, UnitPrice: "12.50"},
	}}
	status = doJSON(t, http.MethodPut, srv.URL+"/api/deliveries/"+d.ID, upd, &d)
	require.Equal(t, http.StatusOK, status)

	doJSON(t, http.MethodGet, srv.URL+"/api/orders/"+order.ID, nil, &got)
	assert.Equal(t, int64(55), got.Totals.Remaining)

	// Delete.
	status = doJSON(t, http.MethodDelete, srv.URL+"/api/deliveries/"+d.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	doJSON(t, http.MethodGet, srv.URL+"/api/orders/"+order.ID, nil, &got)
	assert.Equal(t, int64(100), got.Totals.Remaining)

	// The audit trail kept every step.
	var entries []AuditEntryDTO
	doJSON(t, http.MethodGet, srv.URL+"/api/audit?order_line_id="+lineID, nil, &entries)
	require.Len(t, entries, 3)
	assert.Equal(t, "DELETE", entries[0].Kind)
	assert.Equal(t, "UPDATE", entries[1].Kind)
	assert.Equal(t, "INSERT", entries[2].Kind)
}

func TestStatusLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	order := createOrder(t, srv)

	var d DeliveryDTO
	status := doJSON(t, http.MethodPost, srv.URL+"/api/deliveries", deliveryReq(order.ID, order.Lines[0].ID, 10), &d)
	require.Equal(t, http.StatusCreated, status)

	set := func(to string) int {
		var out DeliveryDTO
		return doJSON(t, http.MethodPut, srv.URL+"/api/deliveries/"+d.ID,
			UpdateDeliveryRequest{Status: &to}, &out)
	}

	assert.Equal(t, http.StatusOK, set("IN_TRANSIT"))
	assert.Equal(t, http.StatusOK, set("DELIVERED"))
	// Terminal: any further transition is a client error.
	assert.Equal(t, http.StatusBadRequest, set("PENDING"))
	assert.Equal(t, http.StatusBadRequest, set("CANCELLED"))
	// Garbage status is rejected before it reaches the state machine.
	assert.Equal(t, http.StatusBadRequest, set("LOST_AT_SEA"))
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	order := createOrder(t, srv)
	lineID := order.Lines[0].ID

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			"order not found", http.MethodGet,
			"/api/orders/nope", nil, http.StatusNotFound,
		},
		{
			"delivery not found", http.MethodGet,
			"/api/deliveries/nope", nil, http.StatusNotFound,
		},
		{
			"delivery against unknown order", http.MethodPost,
			"/api/deliveries", deliveryReq("nope", lineID, 10), http.StatusNotFound,
		},
		{
			"zero quantity", http.MethodPost,
			"/api/deliveries", deliveryReq(order.ID, lineID, 0), http.StatusBadRequest,
		},
		{
			"over-consumption", http.MethodPost,
			"/api/deliveries", deliveryReq(order.ID, lineID, 150), http.StatusConflict,
		},
		{
			"recalculate unknown order", http.MethodPost,
			"/api/orders/nope/recalculate", nil, http.StatusNotFound,
		},
		{
			"order without lines", http.MethodPost,
			"/api/orders", CreateOrderRequest{Reference: "empty"}, http.StatusBadRequest,
		},
		{
			"bad date", http.MethodPost,
			"/api/deliveries", CreateDeliveryRequest{
				OrderID: order.ID, Date: "01/09/2026",
				Lines: []DeliveryLineRequest{{OrderLineID: lineID, Quantity: 1}},
			}, http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errResp ErrorResponse
			status := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &errResp)
			assert.Equal(t, tc.want, status)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestDuplicateOrderLineConflict(t *testing.T) {
	srv := newTestServer(t)
	order := createOrder(t, srv)
	lineID := order.Lines[0].ID

	req := CreateDeliveryRequest{
		OrderID: order.ID,
		Date:    "2026-09-01",
		Lines: []DeliveryLineRequest{
			{OrderLineID: lineID, Quantity: 5},
			{OrderLineID: lineID, Quantity: 7},
		},
	}
	var errResp ErrorResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/api/deliveries", req, &errResp)
	assert.Equal(t, http.StatusConflict, status)
}

// =============================================================================
// RECALCULATE
// =============================================================================

func TestRecalculateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	order := createOrder(t, srv)

	var report RecalculateResponse
	status := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/orders/%s/recalculate", srv.URL, order.ID), nil, &report)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, order.ID, report.OrderID)
	assert.Equal(t, 1, report.LinesTotal)
	assert.Empty(t, report.Corrections)
}

// =============================================================================
// ORDER CODES
// =============================================================================

func TestOrderCodesAreSequentialPerYear(t *testing.T) {
	srv := newTestServer(t)

	first := createOrder(t, srv)
	second := createOrder(t, srv)
	assert.NotEqual(t, first.Code, second.Code)
	assert.Regexp(t, `^ORD-\d{4}-\d{6}$`, first.Code)
	assert.Regexp(t, `^ORD-\d{4}-\d{6}$`, second.Code)
}
