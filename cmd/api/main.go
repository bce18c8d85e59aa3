package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/punchamoorthee/ussdops/internal/api"
	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/config"
	"github.com/punchamoorthee/ussdops/internal/gateway"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/notify"
	"github.com/punchamoorthee/ussdops/internal/outbound"
	"github.com/punchamoorthee/ussdops/internal/service"
	"github.com/punchamoorthee/ussdops/internal/session"
	"github.com/punchamoorthee/ussdops/internal/store"
	"github.com/punchamoorthee/ussdops/internal/ussd"
	"github.com/punchamoorthee/ussdops/internal/vas"
	"github.com/punchamoorthee/ussdops/internal/worker"
)

// backend is what both the postgres and the in-memory store provide.
type backend interface {
	service.Store
	api.TransactionReader
	Ping(ctx context.Context) error
	Close()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Error("loading catalog", "error", err)
		os.Exit(1)
	}

	var sessions session.Store
	health := map[string]api.Pinger{}
	if cfg.RedisAddr != "" {
		rs := session.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		if err := rs.Ping(context.Background()); err != nil {
			logger.Error("connecting to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		sessions = rs
		health["sessions"] = rs
	} else {
		sessions = session.NewMemoryStore(cfg.SessionTTL, time.Minute)
	}
	defer sessions.Close()

	var db backend
	if cfg.Storage == "postgres" {
		pg, err := store.NewStore(cfg.DBSource)
		if err != nil {
			logger.Error("connecting to database", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			logger.Error("migrating schema", "error", err)
			os.Exit(1)
		}
		db = pg
	} else {
		logger.Warn("using in-memory storage; ledger is lost on restart")
		db = store.NewMemory()
	}
	defer db.Close()
	health["store"] = db

	httpClient := &http.Client{}
	provider := vas.NewClient(cfg.VASBaseURL, cfg.VASCallbackURL, cat,
		&outbound.Client{
			Name:     "vas_fulfill",
			HTTP:     httpClient,
			Policy:   outbound.SingleShot(cfg.HTTPTimeout),
			Username: cfg.VASClientID,
			Password: cfg.VASClientSecret,
		},
		&outbound.Client{
			Name:     "vas_lookup",
			HTTP:     httpClient,
			Policy:   outbound.Bounded(cfg.HTTPTimeout, 3),
			Username: cfg.VASClientID,
			Password: cfg.VASClientSecret,
		},
	)
	acks := gateway.NewClient(cfg.GatewayFulfillmentURL, &outbound.Client{
		Name:     "gateway",
		HTTP:     httpClient,
		Policy:   outbound.Bounded(cfg.HTTPTimeout, 3),
		Username: cfg.GatewayClientID,
		Password: cfg.GatewayClientSecret,
	})

	ledgerSvc := ledger.NewService(db, provider, logger)
	engine := ussd.NewEngine(sessions, cat, provider, logger, ussd.WithCheckoutTTL(cfg.CheckoutSessionTTL))
	payments := service.NewPaymentProcessor(db, sessions, cat, provider, notify.NewLogSender(logger), acks, logger)
	fulfillments := service.NewFulfillmentCallbackProcessor(db, ledgerSvc, logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool := worker.NewPool(context.Background(), cfg.RetryBatchSize, logger)
	pool.Start(cfg.RetryWorkers)
	scanner := service.NewRetryScanner(db, provider, pool, cfg.RetryBatchSize, cfg.RetryScanInterval, logger)
	scanDone := make(chan struct{})
	go func() {
		defer close(scanDone)
		scanner.Run(ctx)
	}()

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer limiter.Close()

	handler := api.NewHandler(engine, payments, fulfillments, ledgerSvc, db, health, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * cfg.HTTPTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "env", cfg.Env, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	stop()
	<-scanDone
	pool.Shutdown()
	logger.Info("shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		l = slog.LevelDebug
	case "WARN":
		l = slog.LevelWarn
	case "ERROR":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
