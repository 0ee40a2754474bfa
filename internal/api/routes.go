// Package api exposes the overlay sessions over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/mapview"
	"github.com/sells-group/market-atlas/internal/metric"
)

// Server serves the variable catalog and per-session overlay controllers.
type Server struct {
	catalog  *metric.Catalog
	sessions *mapview.Registry
}

// NewServer creates a Server.
func NewServer(catalog *metric.Catalog, sessions *mapview.Registry) *Server {
	return &Server{catalog: catalog, sessions: sessions}
}

// SetupRoutes builds the router. An empty origins list allows any origin.
func (s *Server) SetupRoutes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/variables", s.listVariables)
		r.Get("/resolution", s.resolution)

		r.Post("/sessions", s.createSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Post("/viewport", s.updateViewport)
			r.Put("/variable", s.selectVariable)
			r.Put("/preferences", s.updatePreferences)
			r.Post("/pointer", s.pointerMove)
			r.Delete("/pointer", s.pointerLeave)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
