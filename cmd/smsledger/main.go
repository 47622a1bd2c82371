package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jinsol/smsledger/internal/api"
	"github.com/jinsol/smsledger/internal/config"
	"github.com/jinsol/smsledger/internal/configdoc"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/inbox"
	"github.com/jinsol/smsledger/internal/keyword"
	"github.com/jinsol/smsledger/internal/ledger"
	"github.com/jinsol/smsledger/internal/phone"
	"github.com/jinsol/smsledger/internal/provider"
	"github.com/jinsol/smsledger/internal/scheduler"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting smsledger...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Open database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// Build the provider registry and load the configuration document.
	// A version that is not newer than the stored one is normal at boot.
	registry, err := provider.NewRegistry(database, phone.NewMatcher(cfg.Region))
	if err != nil {
		log.Fatalf("Failed to create provider registry: %v", err)
	}

	doc, err := configdoc.Load(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load provider config %s: %v", cfg.ConfigPath, err)
	}
	err = registry.LoadAll(doc)
	switch {
	case errors.Is(err, provider.ErrVersionNotNewer):
		log.Printf("Provider config version %s already loaded", doc.Version)
	case err != nil:
		log.Fatalf("Failed to load providers: %v", err)
	default:
		log.Printf("Loaded provider config version %s", doc.Version)
	}
	log.Printf("%d providers active", len(registry.Active()))

	// Keyword classifier
	classifier, err := keyword.NewClassifier(database)
	if err != nil {
		log.Fatalf("Failed to create keyword classifier: %v", err)
	}

	// Inbox triage over the transaction book
	book := ledger.NewBook(database)
	triage := inbox.NewTriage(database, registry, classifier, book, cfg.Currency, cfg.ImportBatch)

	// Create router
	router := api.NewRouter(cfg, database, registry, classifier, triage)

	// Create and start scheduler
	sched, err := scheduler.New(registry, triage, scheduler.Config{
		Timezone:   cfg.Timezone,
		ConfigPath: cfg.ConfigPath,
	})
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Start server
	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down gracefully...")

	// Give ongoing requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping scheduler...")
	if err := sched.Stop(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}

	log.Println("Closing database...")
	if err := database.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
}
