package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-variant-inventory/internal/fulfillment"
	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

// StandardError is the body of every error response.
type StandardError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Available is set for OutOfStock so the client can show "Only N left".
	Available *int `json:"available,omitempty"`

	status int
}

func (e *StandardError) Error() string { return e.Message }

func (e *StandardError) HTTPStatus() int {
	if e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

func NewStandardError(status int, code, message, details string) *StandardError {
	return &StandardError{Code: code, Message: message, Details: details, status: status}
}

func NewInvalidRequest(message, details string) *StandardError {
	return NewStandardError(http.StatusBadRequest, "InvalidRequest", message, details)
}

// FromError maps domain errors to responses.
func FromError(err error) *StandardError {
	var se *StandardError
	if errors.As(err, &se) {
		return se
	}
	var oos *inventory.OutOfStockError
	if errors.As(err, &oos) {
		n := oos.Available
		e := NewStandardError(http.StatusConflict, "OutOfStock",
			fmt.Sprintf("Only %d left", n), err.Error())
		e.Available = &n
		return e
	}

	type mapping struct {
		target error
		status int
		code   string
	}
	for _, m := range []mapping{
		{inventory.ErrVariantNotFound, http.StatusUnprocessableEntity, "VariantNotFound"},
		{inventory.ErrProductNotFound, http.StatusNotFound, "ProductNotFound"},
		{inventory.ErrReservationNotFound, http.StatusNotFound, "ReservationNotFound"},
		{inventory.ErrOrderLineNotFound, http.StatusNotFound, "OrderLineNotFound"},
		{inventory.ErrReservationClosed, http.StatusConflict, "ReservationClosed"},
		{inventory.ErrProductExists, http.StatusConflict, "ProductExists"},
		{fulfillment.ErrLineExists, http.StatusConflict, "OrderLineExists"},
		{inventory.ErrInvalidTransition, http.StatusConflict, "InvalidTransition"},
		{fulfillment.ErrStatusTransition, http.StatusConflict, "InvalidStatusTransition"},
		{reconcile.ErrActiveReservations, http.StatusConflict, "ActiveReservations"},
		{inventory.ErrInvalidProduct, http.StatusBadRequest, "InvalidProduct"},
		{inventory.ErrInvalidQuantity, http.StatusBadRequest, "InvalidQuantity"},
		{inventory.ErrDuplicateVariant, http.StatusBadRequest, "DuplicateVariant"},
		{inventory.ErrInvariant, http.StatusBadRequest, "InvariantViolation"},
		{fulfillment.ErrEmptyOrder, http.StatusBadRequest, "EmptyOrder"},
		{fulfillment.ErrReplacementRequired, http.StatusBadRequest, "ReplacementRequired"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "Timeout"},
	} {
		if errors.Is(err, m.target) {
			return NewStandardError(m.status, m.code, m.target.Error(), err.Error())
		}
	}
	return NewStandardError(http.StatusInternalServerError, "InternalError", "internal error", err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	se := FromError(err)
	writeJSON(w, se.HTTPStatus(), se)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewInvalidRequest("invalid json", err.Error())
	}
	return nil
}
