package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/go-variant-inventory/internal/fulfillment"
	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	kafkax "github.com/ariefcatur/go-variant-inventory/internal/kafka"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
)

type OrdersHandler struct {
	Coordinator *fulfillment.Coordinator
	Status      *fulfillment.StatusHandler
	Service     string
}

type CheckoutReq struct {
	OrderID string                  `json:"order_id"`
	Lines   []fulfillment.LineInput `json:"lines"`
}

type CheckoutResp struct {
	OrderID string                 `json:"order_id"`
	Lines   []*inventory.OrderLine `json:"lines"`
}

type ReleaseLineReq struct {
	Reason      fulfillment.Reason `json:"reason"`
	Replacement *struct {
		Size  string `json:"size"`
		Color string `json:"color"`
	} `json:"replacement,omitempty"`
}

type StatusReq struct {
	EventID      string               `json:"event_id"`
	From         orders.Status        `json:"from"`
	To           orders.Status        `json:"to"`
	Replacements []orders.Replacement `json:"replacements"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.checkout)
	r.Get("/orders/{id}/lines", h.lines)
	r.Post("/orders/{id}/lines/{index}/deliver", h.deliver)
	r.Post("/orders/{id}/lines/{index}/release", h.releaseLine)
	r.Post("/orders/{id}/status", h.status)
}

func lineIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || i < 0 {
		return 0, NewInvalidRequest("invalid line index", chi.URLParam(r, "index"))
	}
	return i, nil
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	lines, err := h.Coordinator.Checkout(ctx, req.OrderID, req.Lines)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckoutResp{OrderID: req.OrderID, Lines: lines})
}

func (h *OrdersHandler) lines(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	lines, err := h.Coordinator.Lines(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResp{OrderID: orderID, Lines: lines})
}

// deliver is the carrier webhook. Repeated deliveries answer 200.
func (h *OrdersHandler) deliver(w http.ResponseWriter, r *http.Request) {
	idx, err := lineIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	err = h.Coordinator.CommitDeduction(ctx, orderID, idx)
	switch {
	case errors.Is(err, inventory.ErrAlreadyFulfilled):
		writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "index": idx, "already_fulfilled": true})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "index": idx, "already_fulfilled": false})
	}
}

func (h *OrdersHandler) releaseLine(w http.ResponseWriter, r *http.Request) {
	idx, err := lineIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ReleaseLineReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rr := fulfillment.ReleaseRequest{OrderID: chi.URLParam(r, "id"), Index: idx, Reason: req.Reason}
	if req.Replacement != nil {
		k := inventory.Key(req.Replacement.Size, req.Replacement.Color)
		rr.Replacement = &k
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	tok, err := h.Coordinator.Release(ctx, rr)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"order_id": rr.OrderID, "index": idx, "reason": rr.Reason}
	if tok != "" {
		resp["replacement_token"] = tok
	}
	writeJSON(w, http.StatusOK, resp)
}

// status accepts an order status change; event_id makes retries safe.
func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	var req StatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	orderID := chi.URLParam(r, "id")
	env := kafkax.NewEnvelope(orders.EventOrderStatusChanged, h.Service, orderID, orders.OrderStatusChangedPayload{
		OrderID: orderID, From: req.From, To: req.To, Replacements: req.Replacements,
	})
	if req.EventID != "" {
		env.EventID = req.EventID
	}
	env.TraceID = r.Header.Get("X-Request-Id")

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	out, err := h.Status.Handle(ctx, env)
	if err != nil {
		se := FromError(err)
		writeJSON(w, se.HTTPStatus(), map[string]any{"error": se, "lines": out.Lines})
		return
	}
	writeJSON(w, http.StatusOK, out)
}
