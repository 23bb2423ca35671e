package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresFailureStore implements FailureStore on PostgreSQL so failed
// deliveries survive restarts.
type PostgresFailureStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresFailureStore wraps an existing database handle.
func NewPostgresFailureStore(db *sql.DB) *PostgresFailureStore {
	return &PostgresFailureStore{db: db, clock: time.Now}
}

const failuresSchema = `
CREATE TABLE IF NOT EXISTS event_failures (
	id UUID PRIMARY KEY,
	event TEXT NOT NULL,
	payload JSONB,
	error TEXT NOT NULL DEFAULT '',
	attempts INT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	last_tried_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_event_failures_created_at ON event_failures (created_at);
`

// Migrate creates the event_failures table if it does not exist.
func (s *PostgresFailureStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, failuresSchema); err != nil {
		return fmt.Errorf("failed to migrate event_failures table: %w", err)
	}
	return nil
}

// Record stores a new failure.
func (s *PostgresFailureStore) Record(ctx context.Context, failure *FailedEvent) error {
	if failure.ID == "" {
		failure.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	attempts := failure.Attempts
	if attempts == 0 {
		attempts = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_failures (id, event, payload, error, attempts, created_at, last_tried_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		failure.ID, failure.Event, []byte(failure.Payload), failure.Error, attempts, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record event failure: %w", err)
	}
	return nil
}

// FetchPending returns the oldest pending failures, capped at limit.
func (s *PostgresFailureStore) FetchPending(ctx context.Context, limit, maxAttempts int) ([]*FailedEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event, payload, error, attempts, created_at, last_tried_at
		FROM event_failures
		WHERE attempts < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending failures: %w", err)
	}
	defer rows.Close()

	out := []*FailedEvent{}
	for rows.Next() {
		var f FailedEvent
		var payload []byte
		if err := rows.Scan(&f.ID, &f.Event, &payload, &f.Error, &f.Attempts, &f.CreatedAt, &f.LastTriedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event failure: %w", err)
		}
		f.Payload = payload
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event failures: %w", err)
	}
	return out, nil
}

// MarkResolved removes a resolved failure.
func (s *PostgresFailureStore) MarkResolved(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM event_failures WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to resolve event failure: %w", err)
	}
	return nil
}

// MarkFailed increments the attempt count after an unsuccessful retry.
func (s *PostgresFailureStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE event_failures SET attempts = attempts + 1, error = $2, last_tried_at = $3 WHERE id = $1`,
		id, errMsg, s.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark event failure: %w", err)
	}
	return nil
}

// CountPending counts failures still eligible for retry.
func (s *PostgresFailureStore) CountPending(ctx context.Context, maxAttempts int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_failures WHERE attempts < $1`, maxAttempts).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending failures: %w", err)
	}
	return count, nil
}
