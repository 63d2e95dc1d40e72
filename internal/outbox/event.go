// Package outbox stores domain events in the same transaction as the change
// that produced them and relays them to Kafka afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/appointment-booking-engine/internal/db"
)

// Event is the envelope written to outbox_events. The Kafka topic is the
// event type.
type Event struct {
	ID            uuid.UUID
	BusinessID    uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// NewEvent marshals payload and captures the caller's trace context so the
// relay can continue the trace.
func NewEvent(ctx context.Context, businessID uuid.UUID, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return Event{
		ID:            uuid.New(),
		BusinessID:    businessID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   carrier.Get("traceparent"),
		Tracestate:    carrier.Get("tracestate"),
	}, nil
}

// Insert writes ev through q, which is normally the caller's transaction.
func Insert(ctx context.Context, q db.Querier, ev Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (id, business_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ev.ID, ev.BusinessID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload, ev.Traceparent, ev.Tracestate)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
