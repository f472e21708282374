package store

import (
	"context"
	"time"

	"github.com/Martian-dev/leadsync/internal/model"
)

// EnqueueEvent appends an event to the outbox. Events are deduplicated by
// MsgID.
func (s *Store) EnqueueEvent(ctx context.Context, ev *model.OutboxEvent) error {
	ts := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO event_outbox (user_id, subject, event_type, payload, msg_id, next_attempt_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (msg_id) DO NOTHING`),
		ev.UserID, ev.Subject, ev.Type, string(ev.Payload), ev.MsgID, ts, ts,
	)
	if err != nil {
		return storageErr("enqueueing event "+ev.MsgID, err)
	}
	return nil
}

// DequeueOutbox fetches unpublished events that are due, oldest first.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	rows, err := s.db.QueryxContext(ctx, s.rebind(`
		SELECT id, user_id, subject, event_type, payload, msg_id, retries
		FROM event_outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?`), time.Now().Unix(), limit)
	if err != nil {
		return nil, storageErr("querying outbox", err)
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var (
			ev      model.OutboxEvent
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Subject, &ev.Type, &payload, &ev.MsgID, &ev.Retries); err != nil {
			return nil, storageErr("scanning outbox row", err)
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkPublished marks an outbox event as published
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE event_outbox SET published_at = ? WHERE id = ?"), time.Now().Unix(), id)
	if err != nil {
		return storageErr("marking event published", err)
	}
	return nil
}

// MarkOutboxRetry bumps the retry count and delays the next attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE event_outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?`), time.Now().Add(backoff).Unix(), id)
	if err != nil {
		return storageErr("marking event retry", err)
	}
	return nil
}
