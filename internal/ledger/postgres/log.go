// Package postgres stores the ledger log in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trustid/internal/ledger"
	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/platform/outbox"
	"trustid/pkg/platform/tx"
	"trustid/pkg/requestcontext"
)

// submitLockKey serializes submissions across every replica sharing the database.
const submitLockKey int64 = 0x74727573746964 // "trustid"

// Log is a ledger.Log backed by the ledger_events table. The outbox entry for
// each event is written in the same transaction.
type Log struct {
	db     *sql.DB
	outbox outbox.Store
}

// New creates a Postgres-backed ledger log. outboxStore may be nil.
func New(db *sql.DB, outboxStore outbox.Store) *Log {
	return &Log{db: db, outbox: outboxStore}
}

func (l *Log) Tip(ctx context.Context) (uint64, error) {
	var tip int64
	err := tx.QuerierFrom(ctx, l.db).QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&tip)
	if err != nil {
		return 0, unavailable(err, "read ledger tip")
	}
	return uint64(tip), nil // #nosec G115
}

func (l *Log) Read(ctx context.Context, after, upTo uint64) ([]ledger.Event, error) {
	query := `
		SELECT seq, kind, tx_id, submitter, payload, created_at
		FROM ledger_events
		WHERE seq > $1`
	args := []any{int64(after)} // #nosec G115
	if upTo > 0 {
		query += ` AND seq <= $2`
		args = append(args, int64(upTo)) // #nosec G115
	}
	query += ` ORDER BY seq ASC`

	rows, err := tx.QuerierFrom(ctx, l.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "read ledger events")
	}
	defer rows.Close()

	var events []ledger.Event
	for rows.Next() {
		var (
			e         ledger.Event
			seq       int64
			kind      string
			txID      uuid.UUID
			submitter string
			payload   []byte
		)
		if err := rows.Scan(&seq, &kind, &txID, &submitter, &payload, &e.Timestamp); err != nil {
			return nil, unavailable(err, "scan ledger event")
		}
		e.Seq = uint64(seq) // #nosec G115
		e.Kind = ledger.Kind(kind)
		e.TxID = id.TxID(txID)
		e.Submitter = id.Address(submitter)
		e.Payload = json.RawMessage(payload)
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate ledger events")
	}
	return events, nil
}

// Submit takes a transaction-scoped advisory lock, runs fn against the tip
// visible under that lock and commits the drafts with the outbox entries.
func (l *Log) Submit(ctx context.Context, submitter id.Address, fn ledger.SubmitFunc) ([]ledger.Event, error) {
	var committed []ledger.Event
	err := tx.Run(ctx, l.db, func(ctx context.Context) error {
		q := tx.QuerierFrom(ctx, l.db)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, submitLockKey); err != nil {
			return unavailable(err, "acquire ledger lock")
		}
		tip, err := l.Tip(ctx)
		if err != nil {
			return err
		}
		drafts, err := fn(ctx, tip)
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			return nil
		}

		txID := id.NewTxID()
		now := requestcontext.Now(ctx).UTC()
		for i, d := range drafts {
			e := ledger.Event{
				Seq:       tip + uint64(i) + 1, // #nosec G115
				Kind:      d.Kind,
				TxID:      txID,
				Submitter: submitter,
				Timestamp: now,
				Payload:   d.Payload,
			}
			_, err := q.ExecContext(ctx, `
				INSERT INTO ledger_events (seq, kind, tx_id, submitter, payload, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, int64(e.Seq), string(e.Kind), uuid.UUID(e.TxID), e.Submitter.String(), []byte(e.Payload), e.Timestamp) // #nosec G115
			if err != nil {
				return unavailable(err, "insert ledger event")
			}
			committed = append(committed, e)
		}
		if l.outbox == nil {
			return nil
		}
		entries, err := ledger.OutboxEntries(committed)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to stage ledger event")
		}
		if err := l.outbox.Append(ctx, entries...); err != nil {
			return unavailable(err, "stage ledger events")
		}
		return nil
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, unavailable(err, "commit ledger submission")
	}
	return committed, nil
}

func unavailable(err error, op string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, fmt.Sprintf("ledger: %s", op))
}
