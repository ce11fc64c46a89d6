package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/scheduler"
)

// JobRunner runs registered jobs on demand and reports their schedule.
type JobRunner interface {
	RunNow(job scheduler.Job) error
	Next(name string) (time.Time, bool)
}

// SystemHandlers serves process status and manual job triggers.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	db        *database.DB
	runner    JobRunner
	jobs      map[string]scheduler.Job
	startedAt time.Time
}

// NewSystemHandlers creates system handlers. db and runner may be nil.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	db *database.DB,
	runner JobRunner,
	jobs []scheduler.Job,
) *SystemHandlers {
	byName := make(map[string]scheduler.Job, len(jobs))
	for _, j := range jobs {
		byName[j.Name()] = j
	}
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		db:        db,
		runner:    runner,
		jobs:      byName,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers the system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/jobs", h.HandleJobsStatus)
		r.Post("/jobs/{name}", h.HandleTriggerJob)
	})
}

// SystemStatusResponse represents the process and storage status
type SystemStatusResponse struct {
	Status        string  `json:"status"` // "healthy" or "degraded"
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DataDirMB     float64 `json:"data_dir_mb"`
	Database      *DBInfo `json:"database,omitempty"`
}

// DBInfo represents the results database
type DBInfo struct {
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	SizeMB  float64 `json:"size_mb"`
	Healthy bool    `json:"healthy"`
	Error   string  `json:"error,omitempty"`
}

// JobInfo represents a registered job
type JobInfo struct {
	Name    string `json:"name"`
	NextRun string `json:"next_run,omitempty"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		DataDirMB:     h.getDirSize(h.dataDir),
	}

	if h.db != nil {
		info := &DBInfo{Name: h.db.Name(), Path: h.db.Path(), Healthy: true}
		if st, err := os.Stat(h.db.Path()); err == nil {
			info.SizeMB = float64(st.Size()) / 1024 / 1024
		}
		if err := h.db.HealthCheck(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("Database health check failed")
			info.Healthy = false
			info.Error = err.Error()
			response.Status = "degraded"
		}
		response.Database = info
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := make([]JobInfo, 0, len(h.jobs))
	for name := range h.jobs {
		info := JobInfo{Name: name}
		if h.runner != nil {
			if next, ok := h.runner.Next(name); ok && !next.IsZero() {
				info.NextRun = next.Format(time.RFC3339)
			}
		}
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": jobs,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(jobs),
		},
	})
}

// HandleTriggerJob handles POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok || h.runner == nil {
		http.Error(w, "Job not registered", http.StatusNotFound)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job triggered")
	start := time.Now()
	if err := h.runner.RunNow(job); err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	if dirPath == "" {
		return 0
	}
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages over a short sample
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
