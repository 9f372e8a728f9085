package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the HTTP router for the local inspection API.
func NewRouter(z Zone, bus EventBus) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)

	h := &Handlers{zone: z, events: bus}

	r.Get("/api/zone", h.getZone)
	r.Get("/api/corners/{key}", h.getCorner)
	r.Put("/api/corners/{key}", h.setCorner)
	r.Post("/api/save", h.save)
	r.Get("/api/subscribe", h.sseEvents)

	return r
}
