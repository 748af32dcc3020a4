package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustid/pkg/platform/outbox"
	"trustid/pkg/platform/sentinel"
	"trustid/pkg/platform/tx"
)

// Store implements outbox.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL outbox store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the entries in one transaction, joining the one carried by
// ctx if present.
func (s *Store) Append(ctx context.Context, entries ...*outbox.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.QuerierFrom(ctx, s.db)
		for _, entry := range entries {
			_, err := q.ExecContext(ctx, `
				INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, seq, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, entry.ID, entry.AggregateType, entry.AggregateID, entry.EventType, int64(entry.Seq), entry.Payload, entry.CreatedAt) // #nosec G115
			if err != nil {
				return fmt.Errorf("insert outbox entry %s: %w", entry.ID, err)
			}
		}
		return nil
	})
}

// FetchUnprocessed returns up to limit pending entries in ledger order.
// FOR UPDATE SKIP LOCKED lets several workers poll without blocking.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	const maxBatch = 1000
	if limit > maxBatch {
		limit = maxBatch
	}
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, seq, payload, created_at, processed_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed entries: %w", err)
	}
	defer rows.Close()

	var entries []*outbox.Entry
	for rows.Next() {
		var (
			e         outbox.Entry
			seq       int64
			processed sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &seq, &e.Payload, &e.CreatedAt, &processed); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Seq = uint64(seq) // #nosec G115
		if processed.Valid {
			e.ProcessedAt = &processed.Time
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkProcessed marks an entry as successfully published.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	result, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET processed_at = $2 WHERE id = $1 AND processed_at IS NULL`, id, processedAt)
	if err != nil {
		return fmt.Errorf("mark outbox entry processed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("outbox entry %s not pending: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

// CountPending returns the number of unprocessed entries.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return count, nil
}

// DeleteProcessedBefore removes old processed entries.
func (s *Store) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete processed entries: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rowsAffected, nil
}
