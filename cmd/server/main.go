/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the workshop ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load config.toml / WORKSHOP_* env vars
  2. Build the zap logger
  3. Open the SQLite store (migrates on open)
  4. Pick the stock locker (in-process or Redis) and event publisher
  5. Create the stock and job-card services, the API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file (default: ./config.toml if present)
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Flush the event publisher, close the database
  4. Exit

EXAMPLES:
  # Run with defaults
  ./server

  # Weighted average costing, in-memory database
  WORKSHOP_COSTING_POLICY=WEIGHTED_AVERAGE ./server -db=":memory:"

  # Shared Redis locks and Kafka events
  WORKSHOP_LOCK_BACKEND=redis WORKSHOP_LOCK_REDIS_ADDR=localhost:6379 \
  WORKSHOP_EVENTS_BACKEND=kafka WORKSHOP_EVENTS_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/oneshot/workshop-ledger/api"
	"github.com/oneshot/workshop-ledger/config"
	"github.com/oneshot/workshop-ledger/events"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/oneshot/workshop-ledger/jobcard"
	"github.com/oneshot/workshop-ledger/locking"
	"github.com/oneshot/workshop-ledger/logging"
	"github.com/oneshot/workshop-ledger/store/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path, cfg.Costing.Policy)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher := newPublisher(cfg.Events)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}()

	stock := inventory.NewStockService(inventory.StockServiceConfig{
		Store:             store,
		Policy:            store,
		Suppliers:         store,
		Locker:            locker,
		Publisher:         publisher,
		Logger:            logger.Named("stock"),
		Retries:           cfg.Costing.Retries,
		LowStockThreshold: cfg.Costing.LowStockThreshold,
	})
	cards := jobcard.NewService(jobcard.Config{
		Store:       store,
		Assets:      store,
		Policy:      store,
		Locker:      locker,
		Publisher:   publisher,
		Logger:      logger.Named("jobcard"),
		Retries:     cfg.Costing.Retries,
		Restoration: cfg.Costing.Restoration,
	})

	handler := api.NewHandler(stock, cards, store, store, store)
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		policy, _ := store.CostingPolicy(context.Background())
		logger.Info("server starting",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("costing_policy", string(policy)),
			zap.String("lock_backend", cfg.Lock.Backend),
			zap.String("events_backend", cfg.Events.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLocker(cfg config.LockConfig, logger *zap.Logger) (inventory.Locker, func(), error) {
	if cfg.Backend != "redis" {
		return locking.NewLocal(cfg.Wait), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Wait)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	const backoff = 50 * time.Millisecond
	locker := locking.NewRedis(rdb, locking.RedisOptions{
		Prefix:  cfg.Prefix,
		TTL:     cfg.TTL,
		Retries: int(cfg.Wait / backoff),
		Backoff: backoff,
		Logger:  logger.Named("lock"),
	})
	return locker, func() { rdb.Close() }, nil
}

func newPublisher(cfg config.EventsConfig) events.Publisher {
	if cfg.Backend == "kafka" {
		return events.NewKafka(cfg.Brokers, cfg.Topic)
	}
	return events.Nop{}
}
