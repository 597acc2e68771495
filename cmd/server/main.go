package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"modelproof/internal/audit"
	"modelproof/internal/monitoring/access"
	"modelproof/internal/monitoring/handler"
	"modelproof/internal/monitoring/membership"
	monmetrics "modelproof/internal/monitoring/metrics"
	"modelproof/internal/monitoring/plans"
	"modelproof/internal/monitoring/scope"
	"modelproof/internal/monitoring/store"
	cyclestore "modelproof/internal/monitoring/store/cycle"
	memberstore "modelproof/internal/monitoring/store/membership"
	scopestore "modelproof/internal/monitoring/store/scope"
	"modelproof/internal/platform/config"
	"modelproof/internal/platform/httpserver"
	"modelproof/internal/platform/logger"
	"modelproof/internal/platform/metrics"
	platformredis "modelproof/internal/platform/redis"
	"modelproof/internal/platform/token"
	"modelproof/pkg/platform/middleware/auth"
	"modelproof/pkg/platform/middleware/requestid"
	"modelproof/pkg/platform/middleware/requesttime"
)

// monitoringStore is the union of what the membership, scope and plan
// services need from the plan/cycle store. Both store implementations
// satisfy it.
type monitoringStore interface {
	plans.Store
	membership.PlanLocker
}

// tokenValidator adapts the JWT service to the auth middleware.
type tokenValidator struct {
	svc *token.JWTService
}

func (v *tokenValidator) ValidateToken(raw string) (*auth.TokenIdentity, error) {
	claims, err := v.svc.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	return &auth.TokenIdentity{UserID: claims.UserID, Admin: claims.IsAdmin()}, nil
}

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal services.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores. Without DATABASE_URL the service runs on memory stores, which
	// is enough for local development against the full API.
	var (
		ledger    membership.LedgerStore
		planStore monitoringStore
		scopes    interface {
			scope.ScopeStore
			plans.SnapshotStore
		}
		trail     audit.Store
		outbox    audit.Outbox
		txRunner  membership.TxRunner
	)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		pgTrail := audit.NewPostgres(db)
		ledger = memberstore.NewPostgres(db)
		planStore = cyclestore.NewPostgres(db)
		scopes = scopestore.NewPostgres(db)
		trail = pgTrail
		outbox = pgTrail
		txRunner = newPostgresTxRunner(db, cfg.LockTimeout)
		log.Info("using postgres stores")
	} else {
		ledger = memberstore.NewInMemory()
		planStore = cyclestore.NewInMemory()
		scopes = scopestore.NewInMemory()
		trail = audit.NewInMemory()
		txRunner = store.NewMemoryTxRunner()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	publisher := audit.NewPublisher(trail, audit.WithLogger(log))
	monMetrics := monmetrics.New()

	memberSvc := membership.NewService(ledger, planStore, txRunner,
		membership.WithLogger(log),
		membership.WithMetrics(monMetrics),
		membership.WithAuditor(publisher),
	)
	materializer := scope.NewMaterializer(planStore, scopes, ledger, txRunner,
		scope.WithMaterializerLogger(log),
		scope.WithMaterializerMetrics(monMetrics),
		scope.WithMaterializerAuditor(publisher),
	)
	resolverOpts := []scope.ResolverOption{
		scope.WithResolverLogger(log),
		scope.WithResolverMetrics(monMetrics),
	}
	if redisClient != nil {
		resolverOpts = append(resolverOpts, scope.WithResolverCache(scope.NewCache(redisClient.Client, log)))
	}
	resolver := scope.NewResolver(planStore, scopes, ledger, resolverOpts...)
	planSvc := plans.NewService(planStore, ledger, scopes, materializer, txRunner,
		plans.WithLogger(log),
		plans.WithAuditor(publisher),
	)
	checker := access.NewChecker(resolver, nil)

	jwtSvc := token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	httpMetrics := metrics.NewHTTP()
	h := handler.New(memberSvc, planSvc, resolver, checker, publisher, log)

	router := chi.NewRouter()
	router.Use(requestid.Middleware)
	router.Use(requesttime.Middleware)
	router.Use(httpMetrics.Middleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(&tokenValidator{svc: jwtSvc}, log))
		h.Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting modelproof", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		relay, err := audit.NewRelay(outbox, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return err
		}
		defer relay.Close()
		group.Go(func() error {
			return relay.Run(groupCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")
		return httpserver.Shutdown(srv, 10*time.Second)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
