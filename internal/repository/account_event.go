package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/signsure/signsure/internal/model"
)

// InsertAccountEvents stores a batch of audit events. Events whose stream
// entry ID is already stored are skipped, so redelivered batches are safe.
func (r *Repository) InsertAccountEvents(ctx context.Context, events []*model.AccountEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO account_events (id, event_id, kind, user_id, outcome, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(query,
			event.ID,
			event.EventID,
			event.Kind,
			nullableString(event.UserID),
			event.Outcome,
			event.OccurredAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert account event %d: %w", i, err)
		}
	}

	return nil
}

// ListAccountEvents returns the most recent events for a user, newest first.
func (r *Repository) ListAccountEvents(ctx context.Context, userID string, limit int) ([]*model.AccountEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, event_id, kind, COALESCE(user_id, ''), outcome, occurred_at
		FROM account_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list account events: %w", err)
	}
	defer rows.Close()

	var events []*model.AccountEvent
	for rows.Next() {
		var e model.AccountEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &e.UserID, &e.Outcome, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan account event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list account events: %w", err)
	}

	return events, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
