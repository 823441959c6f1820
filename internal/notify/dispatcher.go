// Package notify is the outbound event dispatcher. Its contract ends at
// durable persistence: delivery, retries, and backoff belong to the worker
// polling for pending rows.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nexacrm/leadflow/internal/bus"
)

// EventStore persists pending events. *store.Store satisfies it.
type EventStore interface {
	InsertPendingEvent(ctx context.Context, eventType string, payload json.RawMessage, targetURL string) (uuid.UUID, error)
}

// Nudger is the optional bus surface for wake-up nudges.
type Nudger interface {
	Publish(subject string, data any) error
}

type Dispatcher struct {
	store   EventStore
	targets map[string]string
	nudger  Nudger
	logger  *slog.Logger
}

// NewDispatcher builds a dispatcher. targets maps event types to webhook
// URLs; nudger may be nil.
func NewDispatcher(s EventStore, targets map[string]string, nudger Nudger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   s,
		targets: targets,
		nudger:  nudger,
		logger:  logger,
	}
}

// Enqueue persists one pending event for the configured target. An event
// type with no configured target is a silent no-op, not an error.
func (d *Dispatcher) Enqueue(ctx context.Context, eventType string, payload any) error {
	target, ok := d.targets[eventType]
	if !ok || target == "" {
		d.logger.Debug("no target configured, dropping event", "event_type", eventType)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	id, err := d.store.InsertPendingEvent(ctx, eventType, data, target)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}

	// Best-effort nudge so the worker picks the row up before its next
	// poll tick. At-least-once delivery rests on the row, not the nudge.
	if d.nudger != nil {
		if err := d.nudger.Publish(bus.SubjectEventPending, map[string]string{
			"id":         id.String(),
			"event_type": eventType,
		}); err != nil {
			d.logger.Warn("nudge publish failed", "event_type", eventType, "error", err)
		}
	}

	d.logger.Info("event enqueued", "event_type", eventType, "event_id", id)
	return nil
}
