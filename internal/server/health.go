package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/allocator/internal/scheduler"
)

// healthDecision is the summary of the newest stored decision.
type healthDecision struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Strategy  string    `json:"source_strategy"`
	Cash      float64   `json:"cash_weight"`
	Assets    int       `json:"assets"`
	Warnings  int       `json:"warnings"`
}

// handleHealth reports whether the results store answers, the last decision
// and when the next scheduled one runs. A failing store is 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	response := map[string]interface{}{
		"service": "allocator",
		"results": "memory",
	}

	if s.db != nil {
		response["results"] = "sqlite"
		if err := s.db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Results database health check failed")
			status, code = "degraded", http.StatusServiceUnavailable
			response["results_error"] = err.Error()
		}
	}

	response["last_decision"] = nil
	if s.decisions != nil {
		latest, err := s.decisions.Latest(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read last decision")
			status, code = "degraded", http.StatusServiceUnavailable
		} else if latest != nil {
			response["last_decision"] = healthDecision{
				ID:        latest.ID,
				Timestamp: latest.Timestamp.UTC(),
				Strategy:  latest.SourceStrategy,
				Cash:      latest.CashWeight,
				Assets:    len(latest.AssetWeights),
				Warnings:  len(latest.Warnings),
			}
		}
	}

	if s.runner != nil {
		if next, ok := s.runner.Next(scheduler.DecisionJobName); ok {
			response["next_decision"] = next.UTC().Format(time.RFC3339)
		}
	}

	response["status"] = status
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
