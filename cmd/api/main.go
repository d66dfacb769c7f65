package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/coach-realtime/config"
	"github.com/jwalitptl/coach-realtime/internal/email"
	auditHandler "github.com/jwalitptl/coach-realtime/internal/handler/audit"
	"github.com/jwalitptl/coach-realtime/internal/handler/health"
	"github.com/jwalitptl/coach-realtime/internal/middleware"
	"github.com/jwalitptl/coach-realtime/internal/realtime"
	"github.com/jwalitptl/coach-realtime/internal/repository"
	"github.com/jwalitptl/coach-realtime/internal/repository/memory"
	"github.com/jwalitptl/coach-realtime/internal/repository/postgres"
	"github.com/jwalitptl/coach-realtime/internal/router"
	"github.com/jwalitptl/coach-realtime/internal/service/audit"
	"github.com/jwalitptl/coach-realtime/internal/service/authz"
	"github.com/jwalitptl/coach-realtime/internal/service/event"
	"github.com/jwalitptl/coach-realtime/internal/service/identity"
	"github.com/jwalitptl/coach-realtime/internal/service/notification"
	"github.com/jwalitptl/coach-realtime/internal/worker"
	"github.com/jwalitptl/coach-realtime/pkg/auth"
	"github.com/jwalitptl/coach-realtime/pkg/logger"
	redisbroker "github.com/jwalitptl/coach-realtime/pkg/messaging/redis"
	"github.com/jwalitptl/coach-realtime/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal(err, "server exited with error")
	}
	log.Info("server exited properly")
}

type stores struct {
	users         repository.UserRepository
	notifications repository.NotificationRepository
	audit         repository.AuditRepository
	// db is nil for the memory driver
	db *sqlx.DB
}

func openStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*stores, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory stores; nothing survives a restart")
		return &stores{
			users:         memory.NewUserRepository(),
			notifications: memory.NewNotificationRepository(),
			audit:         memory.NewAuditRepository(),
		}, nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	base := postgres.NewBaseRepository(db)
	return &stores{
		users:         postgres.NewUserRepository(base),
		notifications: postgres.NewNotificationRepository(base),
		audit:         postgres.NewAuditRepository(base),
		db:            db,
	}, nil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg, cfg.Monitoring.Namespace)

	st, err := openStores(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	broker, err := redisbroker.NewRedisBroker(cfg.Redis.ToBrokerConfig(), log.WithComponent("redis").Zerolog())
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer broker.Close()

	// Audit pipeline and its alert fan-out.
	sinks := audit.MultiSink{
		audit.NewLogSink(log),
		audit.NewBrokerSink(broker, cfg.Audit.AlertChannel),
	}
	if cfg.Alerts.Email.Enabled {
		sinks = append(sinks, audit.NewEmailSink(email.NewSMTPService(cfg.Alerts.Email), cfg.Alerts.Email.Recipients))
	}
	alerts := audit.NewDispatcher(sinks, cfg.Audit.AlertSuppressWindow, log, m)
	pipeline := audit.NewPipeline(st.audit, cfg.Audit, log, m, audit.WithAlerts(alerts))
	pipeline.Start(context.Background())

	// Realtime gateway. The notification service broadcasts through the
	// gateway, so it is wired in after both exist.
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiry)
	resolver := identity.NewResolver(jwtService, st.users,
		identity.WithSessionFallback(cfg.Realtime.AllowSessionFallback))
	if cfg.Realtime.AllowSessionFallback {
		log.Warn("session id fallback enabled; a bare user id authenticates a socket")
	}
	gateway := realtime.NewGateway(realtime.Deps{
		Registry:      realtime.NewRegistry(),
		Authenticator: resolver,
		Authorizer:    authz.NewEngine(st.users),
		Auditor:       pipeline,
		Logger:        log,
		Metrics:       m,
	})
	notes := notification.NewService(st.notifications, st.users, gateway, pipeline, log, m)
	gateway.SetNotifications(notes)

	deps := map[string]health.Pinger{"redis": health.PingFunc(broker.Ping)}
	if st.db != nil {
		deps["postgres"] = st.db
	}

	routerConfig := router.RouterConfig{
		Mode:        cfg.Server.Mode,
		RateLimit:   rate.Limit(cfg.Server.RateLimit),
		RateBurst:   cfg.Server.RateBurst,
		CORSConfig:  middleware.DefaultCORSConfig(cfg.Realtime.AllowedOrigins),
		MetricsPath: cfg.Monitoring.MetricsPath,
	}
	if cfg.Monitoring.PrometheusEnabled {
		routerConfig.Gatherer = reg
	}

	r := router.NewRouter(
		log,
		m,
		middleware.NewAuthMiddleware(resolver, pipeline),
		auditHandler.NewHandler(audit.NewService(st.audit), pipeline),
		health.NewHandler(gateway, deps),
		realtime.NewHandler(gateway, cfg.Realtime, log).Serve,
		routerConfig,
	)
	r.Setup()

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// websocket writes set their own deadlines after the upgrade
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Events.Enabled {
		dispatcher := event.NewDispatcher(notes, pipeline, log)
		g.Go(func() error {
			log.Info("consuming domain events", "channel", cfg.Events.Channel)
			return dispatcher.Run(gctx, broker, cfg.Events.Channel)
		})
	}

	if cfg.Audit.RunCleanup {
		cleanup := worker.NewAuditCleanupWorker(st.audit, cfg.Audit, log)
		g.Go(func() error {
			cleanup.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "server forced to shutdown")
		}
		return nil
	})

	runErr := g.Wait()

	// Hijacked websocket connections outlive srv.Shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gateway.Close(); err != nil {
		log.Warn("closing realtime connections", "error", err.Error())
	}
	awaitDrain(shutdownCtx, gateway)

	if err := pipeline.Close(shutdownCtx); err != nil {
		log.Error(err, "final audit flush failed")
	}
	return runErr
}

// awaitDrain waits for closed sockets to detach so their disconnect events
// reach the final audit flush.
func awaitDrain(ctx context.Context, gw *realtime.Gateway) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for gw.Connections() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
