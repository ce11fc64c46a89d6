// Package handlers provides HTTP handlers for allocation decisions.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/utils"
)

// Handler handles decision HTTP requests
type Handler struct {
	service *allocation.Service
	log     zerolog.Logger
}

// NewHandler creates a new decision handler
func NewHandler(service *allocation.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "decision").Logger(),
	}
}

// DecisionRequest is the optional body of POST /api/decision.
type DecisionRequest struct {
	Views domain.ViewSet `json:"views"`
}

// HandleDecide handles POST /api/decision
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	out, err := h.service.Decide(r.Context(), req.Views)
	if err != nil {
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": out.Decision,
		"metadata": map[string]interface{}{
			"timestamp":      time.Now().Format(time.RFC3339),
			"shrinkage":      out.Shrinkage,
			"views":          len(out.Views),
			"raw_weights":    orderedWeights(out.Raw),
			"raw_cash":       out.Raw.Cash,
			"adjustment":     out.Adjustment,
			"prior":          out.Prior,
			"posterior_mean": out.PosteriorMean,
		},
	})
}

// HandleGetLatest handles GET /api/decision/latest
func (h *Handler) HandleGetLatest(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Latest(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load latest decision")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "No decision yet", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": d,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func orderedWeights(a domain.Allocation) domain.OrderedWeights {
	out := make(domain.OrderedWeights, len(a.Assets))
	for i, asset := range a.Assets {
		out[i] = domain.AssetWeight{Asset: asset, Weight: a.Weights[i]}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
