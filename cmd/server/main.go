package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/brightcampus/schoolcore/internal/audit"
	"github.com/brightcampus/schoolcore/internal/auth/consumers"
	authhandler "github.com/brightcampus/schoolcore/internal/auth/handler"
	"github.com/brightcampus/schoolcore/internal/auth/jwt"
	authrepo "github.com/brightcampus/schoolcore/internal/auth/repository"
	authservice "github.com/brightcampus/schoolcore/internal/auth/service"
	feehandler "github.com/brightcampus/schoolcore/internal/fees/handler"
	feerepo "github.com/brightcampus/schoolcore/internal/fees/repository"
	feeservice "github.com/brightcampus/schoolcore/internal/fees/service"
	"github.com/brightcampus/schoolcore/internal/golive"
	"github.com/brightcampus/schoolcore/internal/httpapi"
	"github.com/brightcampus/schoolcore/internal/metrics"
	"github.com/brightcampus/schoolcore/internal/provision"
	"github.com/brightcampus/schoolcore/internal/queue"
	rbacresolver "github.com/brightcampus/schoolcore/internal/rbac"
	"github.com/brightcampus/schoolcore/internal/redflag"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/database"
	"github.com/brightcampus/schoolcore/pkg/logger"
	"github.com/brightcampus/schoolcore/pkg/messaging"
	"github.com/brightcampus/schoolcore/pkg/rediscli"
)

func main() {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.ServiceName, cfg.Server.Environment)
	log.Info().Str("environment", cfg.Server.Environment).Msg("starting control plane server")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs the job queue, RBAC cache, idempotency store, and rate
	// limiter. The server starts without it: enqueue-dependent routes serve
	// 503 and readiness reports the backend unavailable.
	var rdb *redis.Client
	if client, err := rediscli.New(ctx, &cfg.Redis); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, starting degraded")
	} else {
		rdb = client
		defer rdb.Close()
	}

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(promReg)
	flags := redflag.NewRegistry(log)

	db.SetQueryObserver(func(d time.Duration) {
		ms := float64(d.Microseconds()) / 1000
		metricsReg.Observe("db.query_latency", ms)
		if ms > 200 {
			metricsReg.Inc("db.slow_queries")
		}
	})

	var queues *queue.Queue
	if rdb != nil {
		queues = queue.New(rdb, queue.DefaultConfigs(), log)
		go func() {
			if err := queues.Run(ctx); err != nil {
				log.Error().Err(err).Msg("queue workers stopped")
			}
		}()
	}

	evaluator := redflag.NewEvaluator(flags, metricsReg, redflag.DefaultThresholds(), func() int64 {
		if queues == nil {
			return 0
		}
		var total int64
		for _, n := range queues.Health(ctx).DLQCount {
			total += n
		}
		return total
	})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evaluator.Evaluate()
			}
		}
	}()

	provisioner := provision.New(db, log)
	gate := golive.New(db, rdb, queues, flags, metricsReg, provisioner, cfg.Pilot, cfg.Server.Environment, log)

	jwtManager := jwt.NewManager(&cfg.JWT)
	rbacRes := rbacresolver.New(db, rdb, log)

	sessionRepo := authrepo.NewSessionRepository(db)
	lookupRepo := authrepo.NewUserTenantLookupRepository(db)
	credentialsRepo := authrepo.NewCredentialsRepository(db)
	authSvc := authservice.NewAuthService(sessionRepo, lookupRepo, credentialsRepo, rbacRes, jwtManager, log)
	authHandler := authhandler.NewAuthHandler(authSvc, metricsReg, log)

	// Audit fan-out and lookup-table sync ride the message broker; the server
	// still starts (and audit falls back to structured logs) when it is
	// unreachable.
	var rmq *messaging.RabbitMQ
	var auditPub audit.EventPublisher
	if broker, err := messaging.New(&cfg.RabbitMQ, log); err != nil {
		log.Warn().Err(err).Msg("rabbitmq unavailable, audit events will only be logged")
	} else {
		rmq = broker
		defer rmq.Close()
		if pub, err := messaging.NewPublisher(rmq, messaging.ExchangeAuditEvents, cfg.Server.ServiceName, log); err != nil {
			log.Warn().Err(err).Msg("audit publisher setup failed")
		} else {
			auditPub = pub
		}
		if uec, err := consumers.NewUserEventConsumer(rmq, lookupRepo, sessionRepo, rbacRes, log); err != nil {
			log.Warn().Err(err).Msg("user event consumer setup failed")
		} else if err := uec.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("user event consumer failed to start")
		}
	}
	auditor := audit.New(db, auditPub, log)

	feeSvc := feeservice.NewFeeService(auditor, feerepo.NewPaymentRepository(db), log)
	feeHandler := feehandler.NewFeeHandler(feeSvc, log)

	directory := httpapi.NewCatalogDirectory(db)
	tenantRes := httpapi.NewTenantResolver(directory, jwtManager, flags, log,
		cfg.Server.RootDomain, cfg.Server.InternalCallers)
	authenticator := httpapi.NewAuthenticator(jwtManager)
	guard := httpapi.NewGuard(rbacRes, metricsReg, log, gate.RBACStrictLog)
	health := httpapi.NewHealthHandler(db, rdb, queues, rmq, metricsReg, flags, gate, promReg)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		Config:        cfg,
		Logger:        log,
		Metrics:       metricsReg,
		RateLimiter:   httpapi.NewRateLimiter(rdb),
		TenantRes:     tenantRes,
		Authenticator: authenticator,
		Guard:         guard,
		Isolation:     httpapi.IsolationGuard(flags, log),
		Auth:          authHandler,
		Fees:          feeHandler,
		Health:        health,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
