//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"trustid/internal/platform/database"
)

// appTables lists every table the migrations create, children first.
var appTables = []string{"outbox", "ledger_events", "registration_journal", "identities"}

// PostgresContainer is a migrated database. Container is nil when
// TEST_DATABASE_URL supplied the database.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the embedded migrations
// through the same runner cmd/migrate uses.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	pc := &PostgresContainer{}
	if dsn, ok := external("TEST_DATABASE_URL"); ok {
		pc.DSN = dsn
	} else {
		c, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("trustid_test"),
			postgres.WithUsername("trustid"),
			postgres.WithPassword("trustid_test_password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			),
		)
		if err != nil {
			abort(t, nil, "start postgres", err)
		}
		pc.Container = c
		if pc.DSN, err = c.ConnectionString(ctx, "sslmode=disable"); err != nil {
			abort(t, c, "postgres connection string", err)
		}
	}

	if err := database.Migrate(pc.DSN, "up"); err != nil {
		abort(t, pc.Container, "migrate", err)
	}
	db, err := sql.Open("pgx", pc.DSN)
	if err != nil {
		abort(t, pc.Container, "open postgres", err)
	}
	pc.DB = db
	return pc
}

// TruncateTables clears the given tables in one statement.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	stmt := "TRUNCATE TABLE " + joinIdents(tables) + " RESTART IDENTITY CASCADE"
	if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("truncate %v: %w", tables, err)
	}
	return nil
}

// TruncateAll clears every application table. TRUNCATE is not a row-level
// operation, so the append-only trigger on ledger_events does not fire.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	return p.TruncateTables(ctx, appTables...)
}

func joinIdents(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += `"` + n + `"`
	}
	return out
}
