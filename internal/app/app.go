// Package app wires every component into the api and worker run modes:
// read config, connect infrastructure once, then dispatch on cfg.Mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/formy/core/internal/auth"
	"github.com/formy/core/internal/config"
	"github.com/formy/core/internal/httpserver"
	"github.com/formy/core/internal/platform"
	"github.com/formy/core/internal/telemetry"
	"github.com/formy/core/internal/worker"
	"github.com/formy/core/pkg/credit"
	"github.com/formy/core/pkg/engine"
	"github.com/formy/core/pkg/objectstore"
	"github.com/formy/core/pkg/opsnotify"
	"github.com/formy/core/pkg/queue"
	"github.com/formy/core/pkg/task"
	"github.com/formy/core/pkg/user"
	"github.com/formy/core/pkg/verification"
)

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts the mode cfg.Mode selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting formy-core", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb, metricsReg)
	case "migrate":
		logger.Info("migrate mode complete, exiting")
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func beginTx(pool *pgxpool.Pool) func(ctx context.Context) (pgx.Tx, error) {
	return func(ctx context.Context) (pgx.Tx, error) {
		return pool.Begin(ctx)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *telemetry.Registry) error {
	sessionSecret := cfg.SessionSigningKey
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Info("session: using auto-generated dev secret (set FORMY_SESSION_SIGNING_KEY in production)")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	ledger := credit.NewLedger(db, beginTx(db)).WithMetrics(metricsReg.CreditsDebitedTotal, metricsReg.CreditsRefundedTotal)
	verificationStore := verification.NewStore(rdb)
	taskStore := task.NewStore(db)
	taskQueue := queue.NewQueue(rdb)

	userSvc := user.NewService(db, ledger, verificationStore, sessionMgr, logger, cfg.CreditWhitelist)
	userHandler := user.NewHandler(userSvc, logger)

	taskSvc := task.NewService(taskStore, ledger, taskQueue, logger).WithMetrics(metricsReg.TasksCreatedTotal)
	taskHandler := task.NewHandler(taskSvc, logger)

	srv := httpserver.NewServer(httpserver.Config{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger, db, rdb, metricsReg, auth.Middleware(sessionMgr))

	srv.Router.Mount("/api/v1/auth", userHandler.Routes())
	srv.Router.Mount("/api/v1/tasks", taskHandler.Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *telemetry.Registry) error {
	ledger := credit.NewLedger(db, beginTx(db)).WithMetrics(metricsReg.CreditsDebitedTotal, metricsReg.CreditsRefundedTotal)
	taskStore := task.NewStore(db)
	taskQueue := queue.NewQueue(rdb)
	objects := objectstore.NewStore(cfg.ObjectStoreRoot, cfg.ObjectStoreURLPrefix)

	registry, err := engine.LoadConfig(cfg.EngineConfigPath, metricsReg.EngineRequestDuration)
	if err != nil {
		return fmt.Errorf("loading engine registry: %w", err)
	}

	notify := opsnotify.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)

	renewalInterval, err := time.ParseDuration(cfg.MonthlyCreditsRenewalInterval)
	if err != nil {
		return fmt.Errorf("parsing renewal check interval %q: %w", cfg.MonthlyCreditsRenewalInterval, err)
	}
	go runRenewalLoop(ctx, ledger, logger, renewalInterval)

	popTimeout := time.Duration(cfg.TaskPopTimeoutSeconds) * time.Second
	w := worker.New(taskStore, ledger, taskQueue, registry, objects, logger, notify, popTimeout).WithMetrics(metricsReg.TasksCompletedTotal)

	sweepInterval, err := time.ParseDuration(cfg.RequeueSweepInterval)
	if err != nil {
		return fmt.Errorf("parsing requeue sweep interval %q: %w", cfg.RequeueSweepInterval, err)
	}
	go w.RunRequeueSweep(ctx, sweepInterval)

	return w.Run(ctx)
}

// runRenewalLoop periodically sweeps users whose plan_renew_at has passed
// and resets their balance to the plan's monthly credits: run once at
// start, then on a ticker, until ctx is cancelled.
func runRenewalLoop(ctx context.Context, ledger *credit.Ledger, logger *slog.Logger, interval time.Duration) {
	sweep := func() {
		candidates, err := ledger.DueForRenewal(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("listing renewal candidates", "error", err)
			return
		}
		for _, c := range candidates {
			plan := credit.Plan{ID: c.PlanID, MonthlyCredits: c.MonthlyCredits}
			if err := ledger.RenewIfDue(ctx, c.UserID, plan); err != nil {
				logger.Error("renewing plan", "user_id", c.UserID, "error", err)
			}
		}
	}

	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
