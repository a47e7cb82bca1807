package db

import (
	"context"
	"time"

	"contracthub/internal/types"
)

// EventRepository provides data access for the billing_events table, the
// durable log of provider notifications the reconciler has processed. The
// event ID is the provider's own event identifier, so a redelivered event
// collides on the primary key instead of producing a second row.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// Record stores a processed event. Returns true when this call inserted the
// row and false when the event was already recorded (duplicate delivery).
func (r *EventRepository) Record(ctx context.Context, ev *types.BillingEvent) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO billing_events (id, type, payload, processed_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		ev.Type,
		ev.Payload,
		nilIfZeroTime(ev.ProcessedAt),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record billing event", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListProcessedBefore returns up to limit events processed before the cutoff,
// oldest first. Used by the archive task to page through expired events.
func (r *EventRepository) ListProcessedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.BillingEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, type, payload, processed_at FROM billing_events
		 WHERE processed_at < $1
		 ORDER BY processed_at ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list billing events", err)
	}
	defer rows.Close()

	events := make([]*types.BillingEvent, 0)
	for rows.Next() {
		var ev types.BillingEvent
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Payload, &ev.ProcessedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan billing event", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate billing events", err)
	}
	return events, nil
}

// DeleteByIDs removes archived events from the online table. Returns the
// number of rows deleted.
func (r *EventRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM billing_events WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete billing events", err)
	}
	return int(tag.RowsAffected()), nil
}
