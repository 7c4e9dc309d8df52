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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"liveattend/internal/attendance"
	"liveattend/internal/bus"
	"liveattend/internal/config"
	"liveattend/internal/httpapi"
	"liveattend/internal/hub"
	"liveattend/internal/logging"
	"liveattend/internal/metrics"
	"liveattend/internal/store"
)

func main() {
	var (
		configFile  = pflag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
		port        = pflag.String("port", "", "HTTP port")
		storeKind   = pflag.String("store", "", "store backend: postgres or memory")
		busKind     = pflag.String("bus", "", "bus backend: redis or memory")
		logLevel    = pflag.String("log-level", "", "log level: debug, info, warn, error")
		migrateOnly = pflag.Bool("migrate", false, "apply the database schema and exit")
	)
	pflag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if pflag.CommandLine.Changed("port") {
		cfg.HTTPPort = *port
	}
	if pflag.CommandLine.Changed("store") {
		cfg.StoreBackend = *storeKind
	}
	if pflag.CommandLine.Changed("bus") {
		cfg.BusBackend = *busKind
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		if err := migrate(ctx, cfg); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("schema applied")
		return
	}

	if err := runHTTP(ctx, cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg config.App) error {
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate(ctx)
}

func runHTTP(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	checks := make(map[string]httpapi.HealthCheck)

	var st attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		mem := attendance.NewMemoryStore()
		if cfg.MemorySeed != "" {
			seed, err := store.LoadSeedFile(cfg.MemorySeed)
			if err != nil {
				return err
			}
			classes, students := seed.Apply(mem)
			logger.Info("memory store seeded", "classes", classes, "students", students)
		}
		st = mem
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
		}
		checks["db"] = db.Healthy
		st = attendance.NewRepository(db.Client)
	}

	var b bus.Bus
	switch cfg.BusBackend {
	case "memory":
		b = bus.NewInMemory(cfg.WSSendBuffer * 4)
	default:
		rdb, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		checks["redis"] = rdb.Healthy
		b = bus.NewRedis(rdb.Client, cfg.BusChannel, logger)
	}
	defer b.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	h := hub.New(b, hub.NewRegistry(), hub.Options{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
		SendBuffer:   cfg.WSSendBuffer,
		Metrics:      m,
		Logger:       logger,
	})
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = h.Stop() }()

	svc := attendance.NewService(st, h, attendance.Options{
		LateAfter: cfg.LateAfter,
		Metrics:   m,
		Logger:    logger,
	})

	router := httpapi.NewRouter(httpapi.Options{
		Service:         svc,
		Hub:             h,
		SigningKey:      cfg.JWTSigningKey,
		Issuer:          cfg.JWTIssuer,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CORSOrigins:     cfg.CORSOrigins,
		Logger:          logger,
		Gatherer:        prometheus.DefaultGatherer,
		Checks:          checks,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreBackend, "bus", cfg.BusBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}
