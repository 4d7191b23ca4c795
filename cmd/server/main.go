package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwt_token "crowdledger/internal/jwt_token"
	"crowdledger/internal/ledger/custody"
	"crowdledger/internal/ledger/handler"
	ledgermetrics "crowdledger/internal/ledger/metrics"
	"crowdledger/internal/ledger/models"
	"crowdledger/internal/ledger/ports"
	"crowdledger/internal/ledger/relay"
	"crowdledger/internal/ledger/service"
	"crowdledger/internal/ledger/store"
	"crowdledger/internal/platform/config"
	"crowdledger/internal/platform/httpserver"
	"crowdledger/internal/platform/kafka"
	"crowdledger/internal/platform/logger"
	"crowdledger/internal/platform/metrics"
	"crowdledger/internal/platform/otel"
	"crowdledger/internal/platform/postgres"
	"crowdledger/internal/platform/redis"
	id "crowdledger/pkg/domain"
	"crowdledger/pkg/platform/httputil"
	"crowdledger/pkg/platform/idempotency"
	authmw "crowdledger/pkg/platform/middleware/auth"
	"crowdledger/pkg/platform/middleware/metadata"
	"crowdledger/pkg/platform/middleware/request"
	"crowdledger/pkg/platform/middleware/requesttime"
	"crowdledger/pkg/platform/outbox"
)

// main wires the ledger, its HTTP surface and the outbox relay, and keeps the
// process lifecycle small. Business logic lives in internal/ledger.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "crowdledger:", err)
		os.Exit(1)
	}
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// ledgerBackend is the selected store plus what the relay needs from it.
type ledgerBackend struct {
	store  ports.Store
	tx     ports.StoreTx
	events relay.EventLog
	checks []healthCheck
	close  func()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.close()

	svc, err := service.New(backend.store, backend.tx, custody.NewVault(), cfg.PlatformOwner,
		service.WithLogger(log),
		service.WithMetrics(ledgermetrics.New(reg)),
	)
	if err != nil {
		return fmt.Errorf("create ledger service: %w", err)
	}
	reportPendingTransfers(ctx, svc, cfg.PlatformOwner, log)

	idemStore, idemChecks, closeIdem, err := openIdempotencyStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeIdem()

	sink, sinkChecks, closeSink, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink()

	relayer := outbox.NewRelay(relay.NewSource(backend.events), sink,
		outbox.WithInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
		outbox.WithLogger(log),
	)

	jwtService := jwt_token.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	checks := append(append(backend.checks, idemChecks...), sinkChecks...)

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(metrics.NewHTTP(reg).Middleware)
	r.Use(request.Timeout(cfg.RequestTimeout))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", healthHandler(checks, log))
	handler.New(svc, log).Register(r,
		authmw.RequireAuth(jwt_token.NewJWTServiceAdapter(jwtService), log),
		idempotency.Middleware(idemStore, cfg.Idempotency.TTL, log),
	)

	srv := httpserver.New(cfg.Addr, r)
	log.Info("starting crowdledger",
		"addr", cfg.Addr,
		"platform_owner", cfg.PlatformOwner.String(),
		"store", storeKind(cfg),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		return relayer.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("crowdledger stopped")
	return nil
}

func storeKind(cfg config.Config) string {
	if cfg.Database.URL == "" {
		return "memory"
	}
	return "postgres"
}

// openLedger selects Postgres when a database URL is configured. The platform
// owner is pinned on first start and must match on every later start.
func openLedger(ctx context.Context, cfg config.Config, log *slog.Logger) (*ledgerBackend, error) {
	if cfg.Database.URL == "" {
		log.Warn("no database configured; ledger state is in memory and lost on exit")
		mem := store.NewInMemory()
		return &ledgerBackend{
			store:  mem,
			tx:     store.NewInMemoryTx(mem),
			events: mem,
			close:  func() {},
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	migrations, err := fs.Sub(store.Migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	if err := postgres.Migrate(ctx, db, migrations, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	pg := store.NewPostgres(db)
	if err := pg.EnsureOwner(ctx, cfg.PlatformOwner); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("platform owner: %w", err)
	}
	return &ledgerBackend{
		store:  pg,
		tx:     store.NewPostgresTx(pg),
		events: pg,
		checks: []healthCheck{{name: "postgres", check: db.PingContext}},
		close:  func() { _ = db.Close() },
	}, nil
}

func openIdempotencyStore(ctx context.Context, cfg config.Config, log *slog.Logger) (idempotency.Store, []healthCheck, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		log.Info("no redis configured; idempotency keys are kept in process")
		return idempotency.NewMemoryStore(), nil, func() {}, nil
	}
	checks := []healthCheck{{name: "redis", check: client.Health}}
	return idempotency.NewRedisStore(client), checks, func() { _ = client.Close() }, nil
}

func openSink(ctx context.Context, cfg config.Config, log *slog.Logger) (outbox.Sink, []healthCheck, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info("no kafka brokers configured; ledger events are relayed to the log")
		return outbox.NewLogSink(log), nil, func() {}, nil
	}
	producer, err := kafka.NewProducer(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, nil, err
	}
	// broker defaults for partitions and replication
	if err := producer.EnsureTopic(ctx, -1, -1); err != nil {
		producer.Close()
		return nil, nil, nil, err
	}
	checks := []healthCheck{{name: "kafka", check: producer.Health}}
	return outbox.NewKafkaSink(producer), checks, producer.Close, nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []healthCheck, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		var failed error
		for _, c := range checks {
			if err := c.check(r.Context()); err != nil {
				resp.Checks[c.name] = "unavailable"
				failed = errors.Join(failed, fmt.Errorf("%s: %w", c.name, err))
				continue
			}
			resp.Checks[c.name] = "ok"
		}
		if failed != nil {
			log.WarnContext(r.Context(), "health check failed", "error", failed)
			resp.Status = "degraded"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

type pendingLister interface {
	ListPendingTransfers(ctx context.Context, caller id.Identity) ([]*models.Transfer, error)
}

// reportPendingTransfers warns about reservations left by an earlier run. At
// startup nothing is in flight, so every pending transfer needs reconciliation.
func reportPendingTransfers(ctx context.Context, svc pendingLister, owner id.Identity, log *slog.Logger) {
	pending, err := svc.ListPendingTransfers(ctx, owner)
	if err != nil {
		log.WarnContext(ctx, "could not list pending transfers", "error", err)
		return
	}
	for _, t := range pending {
		log.WarnContext(ctx, "transfer pending reconciliation",
			"transfer_id", t.ID.String(),
			"kind", string(t.Kind),
			"recipient", t.Recipient.String(),
			"amount", t.Amount.String(),
			"created_at", t.CreatedAt,
		)
	}
}
