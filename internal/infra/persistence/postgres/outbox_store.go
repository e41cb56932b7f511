// Package postgres persists relay state in PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/syncbridge/internal/domain/outboxstore"
)

// OutboxStore persists outbound delivery events.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore constructs an OutboxStore backed by the provided pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const (
	outboxInsertSQL = `
INSERT INTO relay_outbox (
    routing_key,
    payload,
    status,
    retry_count,
    last_attempt
)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;
`

	// The guards keep FAILED rows terminal and the retry count monotonic;
	// a zero-row update surfaces as a conflict to the caller.
	outboxUpdateSQL = `
UPDATE relay_outbox
SET routing_key = $2,
    payload = $3,
    status = $4,
    retry_count = $5,
    last_attempt = $6
WHERE id = $1
  AND retry_count <= $5
  AND (status <> 'FAILED' OR $4 = 'FAILED');
`

	outboxFindByStatusSQL = `
SELECT id, routing_key, payload, status, retry_count, last_attempt, created_at
FROM relay_outbox
WHERE status = $1
ORDER BY last_attempt ASC, id ASC;
`

	outboxCountByStatusSQL = `
SELECT COUNT(*) FROM relay_outbox WHERE status = $1;
`

	outboxFindBeforeSQL = `
SELECT id, routing_key, payload, status, retry_count, last_attempt, created_at
FROM relay_outbox
WHERE status = $1
  AND last_attempt < $2
ORDER BY last_attempt ASC, id ASC;
`

	outboxFindAfterSQL = `
SELECT id, routing_key, payload, status, retry_count, last_attempt, created_at
FROM relay_outbox
WHERE status = $1
  AND last_attempt > $2
ORDER BY last_attempt ASC, id ASC;
`

	outboxDeleteBeforeSQL = `
DELETE FROM relay_outbox
WHERE status = $1
  AND last_attempt < $2;
`
)

// Save inserts evt when its ID is zero, assigning the generated sequence id,
// or updates the stored row otherwise. The whole row is written atomically.
func (s *OutboxStore) Save(ctx context.Context, evt *outboxstore.OutboundEvent) error {
	if s.pool == nil {
		return fmt.Errorf("outbox store: nil pool")
	}
	if err := evt.Validate(); err != nil {
		return err
	}

	if evt.ID == 0 {
		row := s.pool.QueryRow(ctx, outboxInsertSQL,
			evt.RoutingKey, evt.Payload, string(evt.Status), evt.RetryCount, evt.LastAttempt)
		if err := row.Scan(&evt.ID, &evt.CreatedAt); err != nil {
			return fmt.Errorf("outbox store: insert: %w", err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, outboxUpdateSQL,
		evt.ID, evt.RoutingKey, evt.Payload, string(evt.Status), evt.RetryCount, evt.LastAttempt)
	if err != nil {
		return fmt.Errorf("outbox store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox store: update event %d: no rows updated", evt.ID)
	}
	return nil
}

// FindByStatus returns events in the given status, oldest attempt first.
func (s *OutboxStore) FindByStatus(ctx context.Context, status outboxstore.Status) ([]outboxstore.OutboundEvent, error) {
	return s.query(ctx, outboxFindByStatusSQL, status)
}

// CountByStatus reports how many events sit in the given status.
func (s *OutboxStore) CountByStatus(ctx context.Context, status outboxstore.Status) (int64, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("outbox store: nil pool")
	}
	if !status.Valid() {
		return 0, fmt.Errorf("outbox store: unknown status %q", status)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, outboxCountByStatusSQL, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox store: count by status: %w", err)
	}
	return n, nil
}

// FindByStatusAndLastAttemptBefore returns matching events attempted strictly before cutoff.
func (s *OutboxStore) FindByStatusAndLastAttemptBefore(ctx context.Context, status outboxstore.Status, cutoff time.Time) ([]outboxstore.OutboundEvent, error) {
	return s.query(ctx, outboxFindBeforeSQL, status, cutoff)
}

// FindByStatusAndLastAttemptAfter returns matching events attempted strictly after cutoff.
func (s *OutboxStore) FindByStatusAndLastAttemptAfter(ctx context.Context, status outboxstore.Status, cutoff time.Time) ([]outboxstore.OutboundEvent, error) {
	return s.query(ctx, outboxFindAfterSQL, status, cutoff)
}

// DeleteByStatusAndLastAttemptBefore purges matching rows and reports how many were removed.
func (s *OutboxStore) DeleteByStatusAndLastAttemptBefore(ctx context.Context, status outboxstore.Status, cutoff time.Time) (int64, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("outbox store: nil pool")
	}
	if !status.Valid() {
		return 0, fmt.Errorf("outbox store: unknown status %q", status)
	}
	tag, err := s.pool.Exec(ctx, outboxDeleteBeforeSQL, string(status), cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox store: delete before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *OutboxStore) query(ctx context.Context, sql string, status outboxstore.Status, args ...any) ([]outboxstore.OutboundEvent, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("outbox store: nil pool")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("outbox store: unknown status %q", status)
	}
	queryArgs := append([]any{string(status)}, args...)
	rows, err := s.pool.Query(ctx, sql, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("outbox store: query: %w", err)
	}
	defer rows.Close()

	var events []outboxstore.OutboundEvent
	for rows.Next() {
		var (
			evt    outboxstore.OutboundEvent
			status string
		)
		if err := rows.Scan(&evt.ID, &evt.RoutingKey, &evt.Payload, &status,
			&evt.RetryCount, &evt.LastAttempt, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox store: scan row: %w", err)
		}
		evt.Status = outboxstore.Status(status)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox store: iterate rows: %w", err)
	}
	return events, nil
}

var _ outboxstore.Store = (*OutboxStore)(nil)
