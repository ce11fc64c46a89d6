// Package handlers provides HTTP handlers for the risk gatekeeper.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/aristath/allocator/internal/utils"
)

// Handler handles risk gatekeeper HTTP requests
type Handler struct {
	limits domain.RiskLimits
	log    zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(limits domain.RiskLimits, log zerolog.Logger) *Handler {
	return &Handler{
		limits: limits,
		log:    log.With().Str("handler", "risk").Logger(),
	}
}

// ApplyRequest is the body of POST /api/risk/apply.
type ApplyRequest struct {
	Weights domain.OrderedWeights `json:"weights"`
	Cash    float64               `json:"cash"`
	Limits  *domain.RiskLimits    `json:"limits,omitempty"`
}

// HandleGetLimits handles GET /api/risk/limits
func (h *Handler) HandleGetLimits(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.limits,
		"metadata": map[string]interface{}{
			"timestamp":  time.Now().Format(time.RFC3339),
			"feasible_n": minimumAssets(h.limits),
		},
	})
}

// HandleApply handles POST /api/risk/apply
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Weights) == 0 {
		http.Error(w, "weights are required", http.StatusBadRequest)
		return
	}

	limits := h.limits
	if req.Limits != nil {
		limits = *req.Limits
	}

	gatekeeper, err := risk.NewGatekeeper(limits, h.log)
	if err != nil {
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}

	assets := make([]string, len(req.Weights))
	weights := make([]float64, len(req.Weights))
	for i, aw := range req.Weights {
		assets[i] = aw.Asset
		weights[i] = aw.Weight
	}
	raw := domain.NewAllocation(assets, weights)
	raw.Cash = req.Cash

	result, err := gatekeeper.Apply(raw)
	if err != nil {
		h.log.Warn().Err(err).Int("assets", len(assets)).Msg("Gatekeeper rejected weights")
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}

	final := make(domain.OrderedWeights, len(assets))
	for i, asset := range result.Allocation.Assets {
		final[i] = domain.AssetWeight{Asset: asset, Weight: result.Allocation.Weights[i]}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"weights":    final,
			"cash":       result.Allocation.Cash,
			"adjustment": result.Adjustment,
			"research":   result.Research,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// minimumAssets is the smallest universe the limits can absorb.
func minimumAssets(limits domain.RiskLimits) int {
	n := 1
	for !limits.Feasible(n) {
		n++
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
