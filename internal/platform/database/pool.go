// Package database opens the PostgreSQL pool shared by the identity store,
// the ledger log, the registration journal and the outbox.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config mirrors the DATABASE_* settings.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	// ConnectAttempts bounds the startup ping; the database container may
	// still be coming up when the server starts.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = time.Second
	}
	return c
}

// Pool is the process-wide *sql.DB.
type Pool struct {
	db *sql.DB
}

// Open connects and pings until the database answers or the attempts run
// out. An empty URL returns nil, nil and the caller keeps in-memory stores.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := ping(ctx, db, cfg); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return &Pool{db: db}, nil
}

func ping(ctx context.Context, db *sql.DB, cfg Config) error {
	var err error
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		err = db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == cfg.ConnectAttempts {
			return fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", errors.Join(err, ctx.Err()))
		case <-time.After(cfg.ConnectBackoff):
		}
	}
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health pings the database for the readiness check.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return errors.New("database not configured")
	}
	return p.db.PingContext(ctx)
}

// RegisterMetrics exports sql.DBStats as trustid_db_* collectors.
func (p *Pool) RegisterMetrics(reg prometheus.Registerer) error {
	if p == nil || p.db == nil || reg == nil {
		return nil
	}
	return reg.Register(collectors.NewDBStatsCollector(p.db, "trustid"))
}

// Close closes the pool; a nil pool is a no-op.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
