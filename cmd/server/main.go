/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the studio session engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env in development)
  2. Parse command-line flags (flags win over environment)
  3. Initialize SQLite store
  4. Wire ledger, booking service, generator and purchases
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default from PORT, else 8080)
  -db      SQLite database path (default from DB_PATH)
           Use ":memory:" for an in-memory database
  -config  Studio config JSON path (cancellation policy, packages)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the event queue
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/studio.db"

  # Run with in-memory database and a custom config
  ./server -db=":memory:" -config="./studio.json"

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studiofit/session-engine/api"
	"github.com/studiofit/session-engine/booking"
	"github.com/studiofit/session-engine/config"
	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/event"
	"github.com/studiofit/session-engine/factory"
	"github.com/studiofit/session-engine/purchase"
	"github.com/studiofit/session-engine/schedule"
	"github.com/studiofit/session-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags (override the environment)
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	configPath := flag.String("config", cfg.ConfigPath, "Studio config JSON path")
	flag.Parse()

	// Studio configuration (cancellation policy, package catalog)
	studio := &factory.StudioConfig{
		CancellationPolicy: booking.DefaultCancellationPolicy(),
		Catalog:            purchase.DefaultCatalog(),
	}
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to read studio config: %v", err)
		}
		studio, err = factory.ParseConfig(string(raw))
		if err != nil {
			log.Fatalf("Failed to parse studio config: %v", err)
		}
	}

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Events: async fan-out to the log sink, off the critical path.
	var emitter event.Emitter = event.Nop{}
	var async *event.Async
	if cfg.EventLog {
		async = event.NewAsync(event.Log{}, cfg.EventQueue)
		emitter = async
	}

	// Domain wiring
	ledger := credit.NewLedger(store, emitter)
	bookings := booking.NewService(ledger, store, store, emitter)
	bookings.Policy = studio.CancellationPolicy
	generator := schedule.NewGenerator(store, bookings)
	purchases := purchase.NewService(studio.Catalog, ledger)

	handler := api.NewHandler(store, ledger, bookings, generator, purchases)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%s", *port)
		log.Printf("📊 API available at http://localhost:%s/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if async != nil {
		async.Close()
	}

	log.Println("Server stopped")
}
