package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Get("/limits", h.HandleGetLimits)
		r.Post("/apply", h.HandleApply)
	})
}
