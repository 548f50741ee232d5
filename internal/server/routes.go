package server

import (
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/livepreview/preview/internal/logging"
)

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(logging.AccessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.GetHead)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
}

// setupRoutes registers the single catch-all route; dispatch classifies
// every path itself.
func (s *Server) setupRoutes() {
	s.router.Get("/*", s.dispatch)
}
