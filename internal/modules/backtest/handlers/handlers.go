// Package handlers provides HTTP handlers for walk-forward backtests.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/reporting"
	"github.com/aristath/allocator/internal/utils"
)

// Handler handles backtest HTTP requests
type Handler struct {
	source    marketdata.Source
	base      backtest.Config
	generator views.Generator
	store     recorder.Recorder
	exporter  reporting.Exporter
	log       zerolog.Logger
}

// NewHandler creates a new backtest handler. exporter may be nil.
func NewHandler(
	source marketdata.Source,
	base backtest.Config,
	generator views.Generator,
	store recorder.Recorder,
	exporter reporting.Exporter,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		source:    source,
		base:      base,
		generator: generator,
		store:     store,
		exporter:  exporter,
		log:       log.With().Str("handler", "backtest").Logger(),
	}
}

// RunRequest overrides the configured backtest settings for one run.
type RunRequest struct {
	HistoryYears *int     `json:"history_years,omitempty"`
	TrainWindow  *int     `json:"train_window,omitempty"`
	TestWindow   *int     `json:"test_window,omitempty"`
	Strategies   []string `json:"strategies,omitempty"`
	RiskEnabled  *bool    `json:"risk_enabled,omitempty"`
	Workers      *int     `json:"workers,omitempty"`
	RiskFreeRate *float64 `json:"risk_free_rate,omitempty"`
	Export       bool     `json:"export,omitempty"`
}

// Apply returns base with the request's overrides.
func (req RunRequest) Apply(base backtest.Config) backtest.Config {
	cfg := base
	if req.HistoryYears != nil {
		cfg.HistoryYears = *req.HistoryYears
	}
	if req.TrainWindow != nil {
		cfg.TrainWindow = *req.TrainWindow
	}
	if req.TestWindow != nil {
		cfg.TestWindow = *req.TestWindow
	}
	if len(req.Strategies) > 0 {
		cfg.Strategies = req.Strategies
	}
	if req.RiskEnabled != nil {
		cfg.RiskEnabled = *req.RiskEnabled
	}
	if req.Workers != nil {
		cfg.Workers = *req.Workers
	}
	if req.RiskFreeRate != nil {
		cfg.RiskFreeRate = *req.RiskFreeRate
	}
	return cfg
}

// HandleRun handles POST /api/backtest
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	bt, err := backtest.New(req.Apply(h.base), h.generator, h.log)
	if err != nil {
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}
	frame, err := h.source.Load(r.Context())
	if err != nil {
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}

	run, err := bt.Run(r.Context(), frame)
	if err != nil {
		h.log.Warn().Err(err).Msg("Backtest aborted")
		http.Error(w, err.Error(), utils.ErrorStatus(err))
		return
	}

	if err := h.store.SaveRun(r.Context(), run); err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to store backtest run")
	}

	var reports []string
	if req.Export && h.exporter != nil {
		if reports, err = h.exporter.Export(r.Context(), run); err != nil {
			h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to export backtest report")
		}
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"data": run,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"reports":   reports,
		},
	})
}

// HandleListRuns handles GET /api/backtest/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := recorder.DefaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backtest runs")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []recorder.RunSummary{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": runs,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(runs),
		},
	})
}

// HandleGetNAV handles GET /api/backtest/runs/{id}/nav/{strategy}
func (h *Handler) HandleGetNAV(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	strategy := chi.URLParam(r, "strategy")

	nav, err := h.store.LoadNAV(r.Context(), id, strategy)
	if errors.Is(err, recorder.ErrNotFound) {
		http.Error(w, "Run or strategy not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load NAV")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": nav,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"run_id":    id,
			"strategy":  strategy,
		},
	})
}

// HandleGetAllocations handles GET /api/backtest/runs/{id}/allocations/{strategy}
func (h *Handler) HandleGetAllocations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	strategy := chi.URLParam(r, "strategy")

	held, err := h.store.LoadAllocations(r.Context(), id, strategy)
	if errors.Is(err, recorder.ErrNotFound) {
		http.Error(w, "Run or strategy not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to load allocations")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": held,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"run_id":    id,
			"strategy":  strategy,
			"count":     len(held),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
