package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jinsol/smsledger/internal/config"
	"github.com/jinsol/smsledger/internal/db"
	"github.com/jinsol/smsledger/internal/inbox"
	"github.com/jinsol/smsledger/internal/keyword"
	"github.com/jinsol/smsledger/internal/provider"
)

func NewRouter(cfg *config.Config, database *db.DB, registry *provider.Registry, classifier *keyword.Classifier, triage *inbox.Triage) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)

	handlers := NewHandlers(cfg, database, registry, classifier, triage)
	limiter := NewRateLimiter(120, time.Minute)

	// Public endpoints
	r.Get("/health", handlers.Health)

	// API v1 routes (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg))
		r.Use(RateLimitMiddleware(limiter))
		r.Use(JSONContentType)

		r.Get("/providers", handlers.Providers)
		r.Post("/providers/{uid}/activate", handlers.ActivateProvider)
		r.Post("/providers/{uid}/deactivate", handlers.DeactivateProvider)

		r.Get("/keywords", handlers.Keywords)
		r.Post("/keywords", handlers.AddKeyword)
		r.Delete("/keywords/{uid}", handlers.DeleteKeyword)
		r.Put("/keywords/priorities", handlers.ReorderKeywords)

		r.Post("/messages", handlers.ImportMessages)
		r.Get("/inbox", handlers.Inbox)
		r.Get("/inbox/{uid}", handlers.InboxEntry)
		r.Put("/inbox/{uid}/memo", handlers.SetMemo)
		r.Post("/inbox/{uid}/register", handlers.Register)

		r.Post("/config/reload", handlers.ReloadConfig)
	})

	return r
}
