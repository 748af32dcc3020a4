package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trustid/internal/identity/models"
	id "trustid/pkg/domain"
	"trustid/pkg/platform/sentinel"
	"trustid/pkg/platform/tx"
)

// PostgresStore persists identity records in the identities table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed identity store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is required")
	}
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO identities (username, password_hash, role, address, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.Username, rec.PasswordHash, rec.Role.String(), rec.Address.String(), rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", rec.Username, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*models.Record, error) {
	row := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT username, password_hash, role, address, created_at
		FROM identities WHERE username = $1`, username)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find identity: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByRole(ctx context.Context, role id.Role) ([]*models.Record, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT username, password_hash, role, address, created_at
		FROM identities WHERE role = $1 ORDER BY seq`, role.String())
	if err != nil {
		return nil, fmt.Errorf("list identities by role: %w", err)
	}
	return collect(rows)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Record, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT username, password_hash, role, address, created_at
		FROM identities ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec           models.Record
		role, address string
	)
	if err := row.Scan(&rec.Username, &rec.PasswordHash, &role, &address, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Role = id.Role(role)
	rec.Address = id.Address(address)
	return &rec, nil
}

func collect(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
