package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"trustid/internal/auth/session"
	"trustid/internal/blob"
	identityhandler "trustid/internal/identity/handler"
	identitysvc "trustid/internal/identity/service"
	identitystore "trustid/internal/identity/store"
	"trustid/internal/ledger"
	"trustid/internal/ledger/contract"
	ledgerhandler "trustid/internal/ledger/handler"
	ledgerpg "trustid/internal/ledger/postgres"
	"trustid/internal/platform/config"
	"trustid/internal/platform/database"
	"trustid/internal/platform/health"
	"trustid/internal/platform/kafka/producer"
	"trustid/internal/platform/logger"
	redisclient "trustid/internal/platform/redis"
	"trustid/internal/projection"
	projectionredis "trustid/internal/projection/redis"
	"trustid/internal/registration"
	registrationhandler "trustid/internal/registration/handler"
	"trustid/internal/registration/journal"
	"trustid/internal/seeder"
	httptransport "trustid/internal/transport/http"
	"trustid/pkg/platform/middleware/request"
	"trustid/pkg/platform/outbox"
	outboxmetrics "trustid/pkg/platform/outbox/metrics"
	outboxmemory "trustid/pkg/platform/outbox/store/memory"
	outboxpg "trustid/pkg/platform/outbox/store/postgres"
	outboxworker "trustid/pkg/platform/outbox/worker"
)

const redisPoolStatsInterval = 15 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("initializing trustid",
		"addr", cfg.Server.Addr,
		"ledger_backend", cfg.Ledger.Backend,
		"blob_backend", cfg.Blob.Backend,
		"admin", cfg.Ledger.Admin,
	)
	if cfg.UsesDevSigningKey() {
		log.Warn("using the development JWT signing key; set JWT_SIGNING_KEY")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	checks := health.New(cfg.Ledger.Backend)

	pool, err := database.Open(ctx, database.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		PingTimeout:     5 * time.Second,
		ConnectAttempts: 10,
		ConnectBackoff:  time.Second,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if pool != nil {
		defer pool.Close() //nolint:errcheck // best-effort on shutdown
		if err := pool.RegisterMetrics(reg); err != nil {
			return fmt.Errorf("database metrics: %w", err)
		}
		checks.RegisterCheck("postgres", pool.Health)
	}

	redis, err := redisclient.New(ctx, cfg.Redis.URL, reg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redis != nil {
		defer redis.Close() //nolint:errcheck // best-effort on shutdown
		checks.RegisterCheck("redis", redis.Health)
	}

	// The outbox only exists when there is a stream to drain it into.
	var outboxStore outbox.Store
	if len(cfg.Kafka.Brokers) > 0 {
		if pool != nil {
			outboxStore = outboxpg.New(pool.DB())
		} else {
			outboxStore = outboxmemory.New()
		}
	}

	var ledgerLog ledger.Log
	switch cfg.Ledger.Backend {
	case config.BackendPostgres:
		ledgerLog = ledgerpg.New(pool.DB(), outboxStore)
	default:
		var opts []ledger.MemoryOption
		if outboxStore != nil {
			opts = append(opts, ledger.WithOutbox(outboxStore))
		}
		ledgerLog = ledger.NewMemoryLog(opts...)
	}

	viewOpts := []projection.Option{projection.WithMetrics(projection.NewMetrics(reg))}
	if redis != nil {
		viewOpts = append(viewOpts, projection.WithCheckpoints(
			projectionredis.New(redis.Client, cfg.Redis.CheckpointTTL),
			uint64(cfg.Ledger.CheckpointEvery),
		))
	}
	program := contract.New(ledgerLog, cfg.Ledger.Admin,
		contract.WithLogger(log),
		contract.WithMetrics(contract.NewMetrics(reg)),
		contract.WithRetry(cfg.Ledger.SubmitAttempts, cfg.Ledger.SubmitBackoff),
		contract.WithProjection(viewOpts...),
	)
	checks.WithLedgerTip(program.Tip)

	tokens := session.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)

	var (
		identityStore identitysvc.Store
		journalStore  registration.Journal
	)
	if pool != nil {
		identityStore = identitystore.NewPostgres(pool.DB())
		journalStore = journal.NewPostgres(pool.DB())
	} else {
		identityStore = identitystore.NewInMemory()
		journalStore = journal.NewInMemory()
	}
	identities := identitysvc.New(identityStore,
		identitysvc.WithLogger(log),
		identitysvc.WithBcryptCost(cfg.Auth.BcryptCost),
		identitysvc.WithTokenIssuer(tokens),
	)

	registrationMetrics := registration.NewMetrics(reg)
	registrar := registration.New(program, identities, journalStore, cfg.Ledger.Admin,
		registration.WithLogger(log),
		registration.WithMetrics(registrationMetrics),
	)
	reconciler := registration.NewReconciler(registrar,
		registration.WithInterval(cfg.Reconcile.Interval),
		registration.WithGrace(cfg.Reconcile.Grace),
		registration.WithReconcilerLogger(log),
		registration.WithReconcilerMetrics(registrationMetrics),
	)

	if cfg.Server.SeedDemo {
		if err := seeder.New(registrar, program, log).SeedAll(ctx); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
	}

	documents, err := newDocuments(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	router := httptransport.NewRouter(httptransport.Routes{
		Identity:     identityhandler.New(identities, log),
		Registration: registrationhandler.New(registrar, reconciler, log),
		Ledger:       ledgerhandler.New(program, documents, log),
		Health:       checks,
		Tokens:       tokens,
		Metrics:      request.NewMetrics(reg),
		Gatherer:     reg,
		BodyLimits:   request.Limits{JSON: cfg.Server.MaxJSONBytes, Raw: cfg.Server.MaxBodyBytes},
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if outboxStore != nil {
		p, err := producer.New(producer.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: "trustid-outbox",
			Acks:     cfg.Kafka.Acks,
			Retries:  5,
		}, log)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer p.Close() //nolint:errcheck // best-effort on shutdown
		checks.RegisterCheck("kafka", p.Health)

		worker := outboxworker.New(outboxStore, p,
			outboxworker.WithTopic(cfg.Kafka.Topic),
			outboxworker.WithBatchSize(cfg.Kafka.OutboxBatch),
			outboxworker.WithPollInterval(cfg.Kafka.OutboxInterval),
			outboxworker.WithMetrics(outboxmetrics.New(reg)),
			outboxworker.WithLogger(log),
		)
		worker.Start()
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return worker.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		if err := reconciler.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("reconciler: %w", err)
		}
		return nil
	})

	if redis != nil {
		g.Go(func() error {
			if err := redis.RunPoolStats(gctx, redisPoolStatsInterval); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("redis pool stats: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newDocuments(ctx context.Context, cfg config.Blob) (ledgerhandler.Documents, error) {
	if cfg.Backend != config.BackendS3 {
		return blob.NewMemoryStore(cfg.GatewayURL), nil
	}
	return blob.NewS3Store(ctx, blob.S3Config{
		Region:     cfg.S3Region,
		Endpoint:   cfg.S3Endpoint,
		AccessKey:  cfg.S3Access,
		SecretKey:  cfg.S3Secret,
		Bucket:     cfg.S3Bucket,
		PresignTTL: cfg.PresignTTL,
	})
}
