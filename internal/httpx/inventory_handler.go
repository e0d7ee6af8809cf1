package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

// AvailabilityCache is the display cache in front of the store.
type AvailabilityCache interface {
	Lookup(ctx context.Context, productID string, key inventory.VariantKey) (int, bool, error)
	Store(ctx context.Context, p *inventory.Product) error
}

type InventoryHandler struct {
	Engine *inventory.Engine
	Cache  AvailabilityCache // optional
	Log    *zap.Logger
}

type variantInput struct {
	Size     string `json:"size"`
	Color    string `json:"color"`
	SKU      string `json:"sku"`
	Stock    int    `json:"stock"`
	Reserved int    `json:"reserved"`
}

type CreateProductReq struct {
	ProductID string         `json:"product_id"`
	Variants  []variantInput `json:"variants"`
	// Stock is used for a product without variants.
	Stock int `json:"stock"`
}

type ReceiveReq struct {
	Size  string `json:"size"`
	Color string `json:"color"`
	Delta int    `json:"delta"`
}

type ReserveReq struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
	CartID    string `json:"cart_id"`
}

type ReserveResp struct {
	Token     inventory.Token `json:"token"`
	Available int             `json:"available"`
}

type AdjustReq struct {
	Quantity int `json:"quantity"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/availability", h.availability)
	r.Post("/products/{id}/receive", h.receive)
	r.Post("/reservations", h.reserve)
	r.Patch("/reservations/{token}", h.adjust)
	r.Delete("/reservations/{token}", h.release)
}

func (h *InventoryHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, NewInvalidRequest("missing fields", "product_id"))
		return
	}

	var (
		p   *inventory.Product
		err error
	)
	if len(req.Variants) == 0 {
		p, err = inventory.NewSimpleProduct(req.ProductID, req.Stock)
	} else {
		records := make([]inventory.StockRecord, 0, len(req.Variants))
		for _, v := range req.Variants {
			records = append(records, inventory.StockRecord{
				Key: inventory.Key(v.Size, v.Color), SKU: v.SKU, Stock: v.Stock, Reserved: v.Reserved,
			})
		}
		p, err = inventory.NewProduct(req.ProductID, records)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.Engine.CreateProduct(ctx, p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Engine.Store().Product(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// availability serves the display value: cache first, store on a miss.
func (h *InventoryHandler) availability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	key := inventory.Key(r.URL.Query().Get("size"), r.URL.Query().Get("color"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		n, ok, err := h.Cache.Lookup(ctx, productID, key)
		if err != nil {
			h.Log.Warn("availability cache lookup failed", zap.String("product_id", productID), zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "key": key, "available": n, "cached": true})
			return
		}
	}

	p, err := h.Engine.Store().Product(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := p.Record(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Store(ctx, p); err != nil {
			h.Log.Warn("availability cache fill failed", zap.String("product_id", productID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "key": rec.Key, "available": rec.Available()})
}

func (h *InventoryHandler) receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.Engine.Receive(ctx, chi.URLParam(r, "id"), inventory.Key(req.Size, req.Color), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ProductID == "" {
		writeError(w, NewInvalidRequest("missing fields", "product_id"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := inventory.Key(req.Size, req.Color)
	tok, err := h.Engine.Reserve(ctx, req.ProductID, key, req.Quantity, req.CartID)
	if err != nil {
		writeError(w, err)
		return
	}
	avail, err := h.Engine.Available(ctx, req.ProductID, key)
	if err != nil {
		h.Log.Warn("availability after reserve", zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, ReserveResp{Token: tok, Available: avail})
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustReq
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tok := inventory.Token(chi.URLParam(r, "token"))
	if err := h.Engine.AdjustQuantity(ctx, tok, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "quantity": req.Quantity})
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Engine.Release(ctx, inventory.Token(chi.URLParam(r, "token"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
