package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
)

var ErrStatusTransition = errors.New("order status transition not allowed")

// LineResult is what a status change did to one line.
type LineResult struct {
	Index       int             `json:"index"`
	State       string          `json:"state,omitempty"`
	Replacement inventory.Token `json:"replacement_token,omitempty"`
	Noop        bool            `json:"noop,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ApplyStatus moves the stock of every line of an order to match a new order
// status. from may be empty when the previous status is unknown. Statuses
// without a stock effect are accepted and do nothing. Per-line failures are
// joined into the returned error; the other lines are still applied.
func (c *Coordinator) ApplyStatus(ctx context.Context, orderID string, from, to orders.Status, replacements map[int]inventory.VariantKey) ([]LineResult, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrStatusTransition, to)
	}
	if from != "" && from != to && !orders.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusTransition, from, to)
	}

	var reason Reason
	switch to {
	case orders.StatusDelivered:
	case orders.StatusCancelled, orders.StatusFailed:
		reason = Cancelled
	case orders.StatusReturnApproved:
		reason = ReturnApproved
	case orders.StatusExchangeApproved:
		reason = ExchangeApproved
	default:
		return nil, nil
	}

	lines, err := c.store.OrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order %s", inventory.ErrOrderLineNotFound, orderID)
	}

	results := make([]LineResult, 0, len(lines))
	var errs []error
	for _, l := range lines {
		res := LineResult{Index: l.Index}
		var err error
		if to == orders.StatusDelivered {
			err = c.CommitDeduction(ctx, orderID, l.Index)
			if errors.Is(err, inventory.ErrAlreadyFulfilled) {
				res.Noop, err = true, nil
			}
		} else {
			req := ReleaseRequest{OrderID: orderID, Index: l.Index, Reason: reason}
			if reason == ExchangeApproved {
				if k, ok := replacements[l.Index]; ok {
					req.Replacement = &k
				}
			}
			res.Replacement, err = c.Release(ctx, req)
		}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("line %d: %w", l.Index, err))
		}
		results = append(results, res)
	}

	if after, err := c.store.OrderLines(ctx, orderID); err == nil {
		for i := range results {
			for _, l := range after {
				if l.Index == results[i].Index {
					results[i].State = string(l.State)
				}
			}
		}
	}

	if len(errs) > 0 {
		c.log.Warn("order status applied with errors",
			zap.String("order_id", orderID), zap.String("status", string(to)), zap.Int("failed", len(errs)))
		return results, errors.Join(errs...)
	}
	c.log.Info("order status applied", zap.String("order_id", orderID), zap.String("status", string(to)))
	return results, nil
}
