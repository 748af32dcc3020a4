package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	id "trustid/pkg/domain"
	"trustid/pkg/platform/sentinel"
	"trustid/pkg/platform/tx"
)

// PostgresStore persists the journal in registration_journal.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin(ctx context.Context, e *Entry) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO registration_journal (id, username, role, address, state, last_error, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Username, e.Role.String(), e.Address.String(), string(e.State), e.LastError, e.PasswordHash, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("journal entry %s: %w", e.ID, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Transition(ctx context.Context, entryID uuid.UUID, to State, lastErr string, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE registration_journal
		SET state = $2,
		    last_error = $3,
		    updated_at = $4,
		    password_hash = CASE WHEN $2 IN ('started', 'ledger_committed') THEN password_hash ELSE '' END
		WHERE id = $1 AND state IN ('started', 'ledger_committed')`,
		entryID, string(to), lastErr, at,
	)
	if err != nil {
		return fmt.Errorf("update journal entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update journal entry: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, entryID); err != nil {
			return err
		}
		return fmt.Errorf("journal entry %s is settled: %w", entryID, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, entryID uuid.UUID) (*Entry, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, username, role, address, state, last_error, password_hash, created_at, updated_at
		FROM registration_journal WHERE id = $1`, entryID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("journal entry %s: %w", entryID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Pending(ctx context.Context) ([]*Entry, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, username, role, address, state, last_error, password_hash, created_at, updated_at
		FROM registration_journal
		WHERE state IN ('started', 'ledger_committed')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pending journal entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                    Entry
		role, address, state string
	)
	if err := row.Scan(&e.ID, &e.Username, &role, &address, &state, &e.LastError, &e.PasswordHash, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Role = id.Role(role)
	e.Address = id.Address(address)
	e.State = State(state)
	return &e, nil
}
