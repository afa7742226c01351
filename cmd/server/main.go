/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the youth healthcare platform server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (env overrides)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create API handler and router
  5. Start the delivery sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: platform.db, env DATABASE_PATH)
           Use ":memory:" for an in-memory database
  -sweep   Delivery sweeper poll interval (default: 30s; 0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, close the database
  4. Exit

EXAMPLES:
  ./server -db="./data/platform.db"
  ./server -db=":memory:" -port=3000 -sweep=10s

SEE ALSO:
  - api/server.go: Router configuration
  - api/sweeper.go: Delivery sweeper
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vsla/health-engine/api"
	"github.com/vsla/health-engine/ledger"
	"github.com/vsla/health-engine/store/sqlite"
)

func main() {
	// Flags, with environment overrides for container deployments
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "platform.db"), "SQLite database path")
	sweep := flag.Duration("sweep", 30*time.Second, "delivery sweeper interval (0 disables)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Handler and router
	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler)

	// Delivery sweeper. The delivery function only logs; the push/SMS
	// bridge plugs in here.
	var sweeper *api.Sweeper
	if *sweep > 0 {
		sweeper = api.NewSweeper(store, func(ctx context.Context, n ledger.Notification) error {
			logger.Info("delivering notification",
				zap.String("id", n.ID),
				zap.String("user_id", string(n.UserID)),
				zap.String("type", n.Type))
			return nil
		}, logger)
		sweeper.PollInterval = *sweep
		sweeper.Start()
		defer sweeper.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", *port), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
