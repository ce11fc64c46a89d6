package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the backtest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/backtest", func(r chi.Router) {
		r.Post("/", h.HandleRun)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}/nav/{strategy}", h.HandleGetNAV)
		r.Get("/runs/{id}/allocations/{strategy}", h.HandleGetAllocations)
	})
}
