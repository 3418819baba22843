package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/t2t2-app/t2t2/internal/api/handlers"
	appMiddleware "github.com/t2t2-app/t2t2/internal/api/middlewares"
	"github.com/t2t2-app/t2t2/internal/config"
	db "github.com/t2t2-app/t2t2/internal/core/database"
	"github.com/t2t2-app/t2t2/internal/logger"
	"github.com/t2t2-app/t2t2/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, store db.Store, rag *services.RAGService, indexing *services.IndexingService, ingest *services.IngestService, log *logger.Logger) *Server {
	authHandler := handlers.NewAuthHandler(store, cfg, log)
	ingestHandler := handlers.NewIngestHandler(ingest, log)
	queryHandler := handlers.NewQueryHandler(rag, log)
	indexHandler := handlers.NewIndexHandler(indexing, log)
	timelineHandler := handlers.NewTimelineHandler(rag, store, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/auth/telegram", authHandler.TelegramLogin)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
			protected.Post("/messages/ingest", ingestHandler.IngestMessages)
			protected.Post("/index", indexHandler.StartIndexing)
			protected.Get("/index/status", indexHandler.Status)
			protected.Post("/query", queryHandler.Query)
			protected.Post("/query/similar", queryHandler.FindSimilar)
			protected.Post("/timeline", timelineHandler.Generate)
			protected.Get("/timeline/{id}", timelineHandler.Get)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, log: log}
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
