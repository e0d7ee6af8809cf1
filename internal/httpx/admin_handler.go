package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

type AdminHandler struct {
	Store      inventory.Store
	Reconciler *reconcile.Reconciler
	Alerts     []reconcile.Alerter
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/audit/ledger", h.ledger)
	r.Get("/admin/drift", h.drift)
	r.Post("/admin/products/{id}/repair", h.repair)
	r.Get("/admin/products/{id}/replay", h.replay)
}

func (h *AdminHandler) ledger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inventory.LedgerFilter{
		OrderID:   q.Get("order_id"),
		ProductID: q.Get("product_id"),
		Limit:     inventory.DefaultLedgerLimit,
	}
	if q.Get("size") != "" || q.Get("color") != "" {
		k := inventory.Key(q.Get("size"), q.Get("color"))
		f.Key = &k
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, NewInvalidRequest("invalid since", err.Error()))
			return
		}
		f.Since = t
	}
	if s := q.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, NewInvalidRequest("invalid until", err.Error()))
			return
		}
		f.Until = t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, NewInvalidRequest("invalid limit", s))
			return
		}
		f.Limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	entries, err := h.Store.Ledger(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []inventory.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// drift runs a scan; every report found is raised with the alerters.
func (h *AdminHandler) drift(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 14*time.Second)
	defer cancel()

	reports := []reconcile.DriftReport{}
	for rep, err := range h.Reconciler.Scan(ctx) {
		if err != nil {
			writeError(w, err)
			return
		}
		for _, a := range h.Alerts {
			a.Drift(ctx, rep)
		}
		reports = append(reports, rep)
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *AdminHandler) repair(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	before, err := h.Reconciler.Repair(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"before": before, "repaired": before.Drifted()})
}

func (h *AdminHandler) replay(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, err := h.Reconciler.Replay(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
