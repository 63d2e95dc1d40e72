package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/appointment-booking-engine/internal/db"
)

type Repository struct {
	db db.Beginner
}

func NewRepository(b db.Beginner) *Repository {
	return &Repository{db: b}
}

// ProcessBatch locks up to limit unpublished events, hands them to fn and
// marks them published when fn succeeds. Concurrent relays skip rows another
// relay holds. Returns the number of events published.
func (r *Repository) ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, events []Event) error) (int, error) {
	var n int
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		events, err := fetchUnpublished(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		if err := fn(ctx, events); err != nil {
			return err
		}
		if err := markPublished(ctx, tx, events); err != nil {
			return err
		}
		n = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func fetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, business_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.BusinessID, &ev.AggregateType, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.Traceparent, &ev.Tracestate, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	return events, nil
}

func markPublished(ctx context.Context, tx pgx.Tx, events []Event) error {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID.String())
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
