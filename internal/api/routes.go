package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Operational endpoints (no auth, no body)
	r.Get("/", h.Root)
	r.Get("/health", h.HealthCheck)
	r.Get("/__lbheartbeat__", h.LBHeartbeat)
	r.Get("/__heartbeat__", h.Heartbeat)

	// Contact API
	r.Route("/ctms", func(r chi.Router) {
		r.Post("/", h.CreateContact)
		r.Get("/", h.ListContacts)
		r.Route("/{email_id}", func(r chi.Router) {
			r.Get("/", h.GetContact)
			r.Get("/identity", h.GetContactIdentity)
			r.Put("/", h.UpdateContact)
			r.Patch("/", h.PatchContact)
			r.Delete("/", h.DeleteContact)
		})
	})

	return r
}
