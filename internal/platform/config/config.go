// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	id "trustid/pkg/domain"
)

// Ledger backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	MaxJSONBytes    int64
	LogLevel        string
	SeedDemo        bool
}

type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Redis struct {
	URL           string
	CheckpointTTL time.Duration
}

type Kafka struct {
	Brokers        []string
	Topic          string
	Acks           string
	OutboxInterval time.Duration
	OutboxBatch    int
}

type Ledger struct {
	Admin           id.Address
	Backend         string
	SubmitAttempts  int
	SubmitBackoff   time.Duration
	CheckpointEvery int
}

type Blob struct {
	Backend    string
	GatewayURL string
	S3Region   string
	S3Endpoint string
	S3Bucket   string
	S3Access   string
	S3Secret   string
	PresignTTL time.Duration
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration
	BcryptCost    int
}

type Reconcile struct {
	Interval time.Duration
	Grace    time.Duration
}

// Config is the full service configuration.
type Config struct {
	Server    Server
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Ledger    Ledger
	Blob      Blob
	Auth      Auth
	Reconcile Reconcile
}

// env mirrors the flat environment keys.
type env struct {
	Addr            string        `mapstructure:"TRUSTID_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `mapstructure:"MAX_BODY_BYTES"`
	MaxJSONBytes    int64         `mapstructure:"MAX_JSON_BODY_BYTES"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	SeedDemo        bool          `mapstructure:"SEED_DEMO_DATA"`

	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxOpenConns  int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns  int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnLifetime  time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	CheckpointTTL   time.Duration `mapstructure:"PROJECTION_CHECKPOINT_TTL"`
	KafkaBrokers    string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string        `mapstructure:"KAFKA_LEDGER_TOPIC"`
	KafkaAcks       string        `mapstructure:"KAFKA_ACKS"`
	OutboxInterval  time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatch     int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	LedgerAdmin     string        `mapstructure:"LEDGER_ADMIN_ADDRESS"`
	LedgerBackend   string        `mapstructure:"LEDGER_BACKEND"`
	SubmitAttempts  int           `mapstructure:"LEDGER_SUBMIT_ATTEMPTS"`
	SubmitBackoff   time.Duration `mapstructure:"LEDGER_SUBMIT_BACKOFF"`
	CheckpointEvery int           `mapstructure:"PROJECTION_CHECKPOINT_EVERY"`

	BlobBackend    string        `mapstructure:"BLOB_BACKEND"`
	BlobGatewayURL string        `mapstructure:"BLOB_GATEWAY_URL"`
	S3Region       string        `mapstructure:"S3_REGION"`
	S3Endpoint     string        `mapstructure:"S3_ENDPOINT"`
	S3Bucket       string        `mapstructure:"S3_BUCKET"`
	S3AccessKey    string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey    string        `mapstructure:"S3_SECRET_KEY"`
	PresignTTL     time.Duration `mapstructure:"S3_PRESIGN_TTL"`

	JWTSigningKey string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `mapstructure:"JWT_ISSUER"`
	TokenTTL      time.Duration `mapstructure:"TOKEN_TTL"`
	BcryptCost    int           `mapstructure:"BCRYPT_COST"`

	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileGrace    time.Duration `mapstructure:"RECONCILE_GRACE"`
}

const devSigningKey = "dev-secret-key-change-in-production"

func defaults(v *viper.Viper) {
	v.SetDefault("TRUSTID_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("MAX_BODY_BYTES", 10<<20)
	v.SetDefault("MAX_JSON_BODY_BYTES", 64<<10)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PROJECTION_CHECKPOINT_TTL", "0s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_LEDGER_TOPIC", "trustid.ledger.events")
	v.SetDefault("KAFKA_ACKS", "all")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "1s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("LEDGER_ADMIN_ADDRESS", "")
	v.SetDefault("LEDGER_BACKEND", BackendMemory)
	v.SetDefault("LEDGER_SUBMIT_ATTEMPTS", 3)
	v.SetDefault("LEDGER_SUBMIT_BACKOFF", "50ms")
	v.SetDefault("PROJECTION_CHECKPOINT_EVERY", 100)
	v.SetDefault("BLOB_BACKEND", BackendMemory)
	v.SetDefault("BLOB_GATEWAY_URL", "https://gateway.pinata.cloud/ipfs")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_BUCKET", "trustid-documents")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_PRESIGN_TTL", "15m")
	v.SetDefault("JWT_SIGNING_KEY", devSigningKey)
	v.SetDefault("JWT_ISSUER", "trustid")
	v.SetDefault("TOKEN_TTL", "1h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("RECONCILE_INTERVAL", "1m")
	v.SetDefault("RECONCILE_GRACE", "30s")
}

// FromEnv reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func FromEnv() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() //nolint:errcheck // a missing .env is fine
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	defaults(v)

	var e env
	if err := v.Unmarshal(&e); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if e.LedgerAdmin == "" {
		return nil, errors.New("config: LEDGER_ADMIN_ADDRESS must be set")
	}
	admin, err := id.ParseAddress(e.LedgerAdmin)
	if err != nil {
		return nil, fmt.Errorf("config: LEDGER_ADMIN_ADDRESS: %w", err)
	}
	e.LedgerBackend = strings.ToLower(e.LedgerBackend)
	if e.LedgerBackend != BackendMemory && e.LedgerBackend != BackendPostgres {
		return nil, fmt.Errorf("config: LEDGER_BACKEND must be %s or %s", BackendMemory, BackendPostgres)
	}
	if e.LedgerBackend == BackendPostgres && e.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL is required for the postgres backend")
	}
	e.BlobBackend = strings.ToLower(e.BlobBackend)
	if e.BlobBackend != BackendMemory && e.BlobBackend != BackendS3 {
		return nil, fmt.Errorf("config: BLOB_BACKEND must be %s or %s", BackendMemory, BackendS3)
	}
	if e.BcryptCost < 4 || e.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if e.TokenTTL <= 0 {
		return nil, errors.New("config: TOKEN_TTL must be positive")
	}

	return &Config{
		Server: Server{Addr: e.Addr, ShutdownTimeout: e.ShutdownTimeout, MaxBodyBytes: e.MaxBodyBytes, MaxJSONBytes: e.MaxJSONBytes, LogLevel: e.LogLevel, SeedDemo: e.SeedDemo},
		Database: Database{
			URL:             e.DatabaseURL,
			MaxOpenConns:    e.DBMaxOpenConns,
			MaxIdleConns:    e.DBMaxIdleConns,
			ConnMaxLifetime: e.DBConnLifetime,
		},
		Redis: Redis{URL: e.RedisURL, CheckpointTTL: e.CheckpointTTL},
		Kafka: Kafka{
			Brokers:        splitList(e.KafkaBrokers),
			Topic:          e.KafkaTopic,
			Acks:           e.KafkaAcks,
			OutboxInterval: e.OutboxInterval,
			OutboxBatch:    e.OutboxBatch,
		},
		Ledger: Ledger{
			Admin:           admin,
			Backend:         e.LedgerBackend,
			SubmitAttempts:  e.SubmitAttempts,
			SubmitBackoff:   e.SubmitBackoff,
			CheckpointEvery: e.CheckpointEvery,
		},
		Blob: Blob{
			Backend:    e.BlobBackend,
			GatewayURL: e.BlobGatewayURL,
			S3Region:   e.S3Region,
			S3Endpoint: e.S3Endpoint,
			S3Bucket:   e.S3Bucket,
			S3Access:   e.S3AccessKey,
			S3Secret:   e.S3SecretKey,
			PresignTTL: e.PresignTTL,
		},
		Auth: Auth{
			JWTSigningKey: e.JWTSigningKey,
			JWTIssuer:     e.JWTIssuer,
			TokenTTL:      e.TokenTTL,
			BcryptCost:    e.BcryptCost,
		},
		Reconcile: Reconcile{Interval: e.ReconcileInterval, Grace: e.ReconcileGrace},
	}, nil
}

// UsesDevSigningKey reports whether the built-in development JWT key is in use.
func (c *Config) UsesDevSigningKey() bool {
	return c.Auth.JWTSigningKey == devSigningKey
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
