// Package push deduplicates recipients and fans one notification out to the
// push gateway. Delivery guarantees and retries belong to the gateway, not
// here; idempotency comes from the deduplicated recipient set.
package push

import (
	"context"
	"log/slog"
	"strings"
)

// Gateway is the outbound push collaborator.
type Gateway interface {
	Send(ctx context.Context, batch Batch) error
}

// Batch is one logical notification to a set of unique recipients.
type Batch struct {
	RecipientIDs []string
	Title        string
	Body         string
	Metadata     map[string]string
}

type Result struct {
	Attempted int
	Succeeded bool
}

// Dedupe returns the unique non-empty identifiers from raw, preserving
// first-seen order. Identifier syntax is the gateway's business, not ours.
func Dedupe(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type Dispatcher struct {
	logger  *slog.Logger
	gateway Gateway
}

func NewDispatcher(logger *slog.Logger, gateway Gateway) *Dispatcher {
	return &Dispatcher{logger: logger, gateway: gateway}
}

// Dispatch sends batch through the gateway. An empty recipient set is a valid
// terminal state: no gateway call is made and the result reads as succeeded.
// A gateway failure is logged and reflected in the result but never escalates;
// the match itself already succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, batch Batch) Result {
	if len(batch.RecipientIDs) == 0 {
		return Result{Attempted: 0, Succeeded: true}
	}

	if err := d.gateway.Send(ctx, batch); err != nil {
		d.logger.Error("push gateway send failed",
			"recipients", len(batch.RecipientIDs),
			"err", err)
		return Result{Attempted: len(batch.RecipientIDs), Succeeded: false}
	}

	d.logger.Info("notification dispatched", "recipients", len(batch.RecipientIDs))
	return Result{Attempted: len(batch.RecipientIDs), Succeeded: true}
}
