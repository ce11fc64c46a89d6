package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the decision routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/decision", func(r chi.Router) {
		r.Post("/", h.HandleDecide)
		r.Get("/latest", h.HandleGetLatest)
	})
}
