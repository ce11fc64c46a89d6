package recorder

import (
	"context"
	"sync"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/backtest"
)

// Memory keeps the latest decision and recent run summaries in process. It
// is used when no results database is configured.
type Memory struct {
	mu       sync.RWMutex
	latest   *domain.Decision
	runs     []RunSummary // newest first
	nav      map[string]map[string][]backtest.NAVPoint
	allocs   map[string]map[string][]backtest.AllocationRecord
	capacity int
}

// NewMemory creates an in-memory recorder keeping up to capacity runs.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultListLimit
	}
	return &Memory{
		capacity: capacity,
		nav:      map[string]map[string][]backtest.NAVPoint{},
		allocs:   map[string]map[string][]backtest.AllocationRecord{},
	}
}

// SaveDecision implements Recorder.
func (m *Memory) SaveDecision(_ context.Context, d domain.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.AssetWeights = append(domain.OrderedWeights(nil), d.AssetWeights...)
	m.latest = &d
	return nil
}

// LatestDecision implements Recorder.
func (m *Memory) LatestDecision(context.Context) (*domain.Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil, nil
	}
	d := *m.latest
	return &d, nil
}

// SaveRun implements Recorder.
func (m *Memory) SaveRun(_ context.Context, run *backtest.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append([]RunSummary{Summarize(run)}, m.runs...)
	paths := make(map[string][]backtest.NAVPoint, len(run.Results))
	held := make(map[string][]backtest.AllocationRecord, len(run.Results))
	for _, res := range run.Results {
		paths[res.Strategy] = append([]backtest.NAVPoint(nil), res.NAV...)
		held[res.Strategy] = append([]backtest.AllocationRecord{}, res.Allocations...)
	}
	m.nav[run.ID] = paths
	m.allocs[run.ID] = held

	if len(m.runs) > m.capacity {
		for _, old := range m.runs[m.capacity:] {
			delete(m.nav, old.ID)
			delete(m.allocs, old.ID)
		}
		m.runs = m.runs[:m.capacity]
	}
	return nil
}

// ListRuns implements Recorder.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	return append([]RunSummary(nil), m.runs[:limit]...), nil
}

// LoadNAV implements Recorder.
func (m *Memory) LoadNAV(_ context.Context, runID, strategy string) ([]backtest.NAVPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.nav[runID][strategy]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]backtest.NAVPoint(nil), path...), nil
}

// LoadAllocations implements Recorder.
func (m *Memory) LoadAllocations(_ context.Context, runID, strategy string) ([]backtest.AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	held, ok := m.allocs[runID][strategy]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]backtest.AllocationRecord{}, held...), nil
}

// Close implements Recorder.
func (m *Memory) Close() error { return nil }
