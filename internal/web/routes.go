package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/faceauth/internal/web/handlers"
	"github.com/kozaktomas/faceauth/internal/web/middleware"
)

func (s *Server) setupRoutes(sessionManager *middleware.SessionManager) {
	// Create handlers
	authHandler := handlers.NewAuthHandler(s.service, sessionManager, s.camera, s.logger)
	healthHandler := handlers.NewHealthHandler(s.service.FaceAvailable)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", healthHandler.Get)

		// Auth routes
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/face", authHandler.Face)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/status", authHandler.Status)

		// All other routes require authentication
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sessionManager))

			r.Get("/me", authHandler.Me)
		})
	})
}
