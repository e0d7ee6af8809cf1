package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	kafkax "github.com/ariefcatur/go-variant-inventory/internal/kafka"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
)

// Deduper remembers processed event ids.
type Deduper interface {
	// First marks id and reports whether it had not been seen before.
	First(ctx context.Context, id string) (bool, error)
	// Forget drops the mark so a redelivery is processed again.
	Forget(ctx context.Context, id string) error
}

type StatusOutcome struct {
	Duplicate bool         `json:"duplicate,omitempty"`
	Lines     []LineResult `json:"lines,omitempty"`
}

// StatusHandler applies order status events, each event id at most once.
type StatusHandler struct {
	Coordinator *Coordinator
	Dedup       Deduper
	Log         *zap.Logger
}

// Handle applies one status change envelope.
func (h *StatusHandler) Handle(ctx context.Context, env orders.Envelope) (StatusOutcome, error) {
	if env.EventType != orders.EventOrderStatusChanged {
		return StatusOutcome{}, nil
	}
	p, err := decodeStatus(env.Payload)
	if err != nil {
		return StatusOutcome{}, err
	}

	if env.EventID != "" && h.Dedup != nil {
		first, err := h.Dedup.First(ctx, env.EventID)
		if err != nil {
			// dedup store down: the line state machine still makes the
			// effects idempotent, so go on
			h.Log.Warn("dedup check failed", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			h.Log.Debug("duplicate status event", zap.String("event_id", env.EventID))
			return StatusOutcome{Duplicate: true}, nil
		}
	}

	repl := make(map[int]inventory.VariantKey, len(p.Replacements))
	for _, r := range p.Replacements {
		repl[r.Index] = inventory.Key(r.Size, r.Color)
	}
	lines, err := h.Coordinator.ApplyStatus(ctx, p.OrderID, p.From, p.To, repl)
	// Any failure drops the mark so a retry or a corrected resend under the
	// same id is applied; lines already done are no-ops then.
	if err != nil && env.EventID != "" && h.Dedup != nil {
		if ferr := h.Dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
			h.Log.Warn("dedup forget failed", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
	}
	return StatusOutcome{Lines: lines}, err
}

// HandleMessage is the consumer entry point. Returning nil commits the
// offset, so only retryable failures are returned.
func (h *StatusHandler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		h.Log.Error("undecodable status event, skipped",
			zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	out, err := h.Handle(ctx, env)
	switch {
	case err == nil:
		if !out.Duplicate {
			h.Log.Info("status event applied",
				zap.String("event_id", env.EventID), zap.String("order_id", env.CorrelationID))
		}
		return nil
	case Permanent(err):
		h.Log.Error("status event rejected",
			zap.String("event_id", env.EventID), zap.String("order_id", env.CorrelationID), zap.Error(err))
		return nil
	default:
		return err
	}
}

// Permanent reports errors a retry cannot fix. A joined error is permanent
// only when every error in it is.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		j, ok := e.(interface{ Unwrap() []error })
		if !ok {
			continue
		}
		errs := j.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, inner := range errs {
			if !Permanent(inner) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, inventory.ErrInvalidTransition) ||
		errors.Is(err, ErrStatusTransition) ||
		errors.Is(err, ErrReplacementRequired) ||
		errors.Is(err, inventory.ErrOrderLineNotFound) ||
		errors.Is(err, inventory.ErrOutOfStock) ||
		errors.Is(err, inventory.ErrVariantNotFound) ||
		errors.Is(err, errBadPayload)
}

var errBadPayload = errors.New("bad status payload")

func decodeStatus(raw json.RawMessage) (orders.OrderStatusChangedPayload, error) {
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](raw)
	if err != nil {
		return p, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if p.OrderID == "" || p.To == "" {
		return p, fmt.Errorf("%w: order_id and to are required", errBadPayload)
	}
	return p, nil
}
