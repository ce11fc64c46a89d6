package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/utils"
)

// SQLite stores results in the results database.
type SQLite struct {
	db  *database.DB
	log zerolog.Logger
}

// NewSQLite wraps a migrated database.
func NewSQLite(db *database.DB, log zerolog.Logger) *SQLite {
	return &SQLite{
		db:  db,
		log: log.With().Str("repo", "recorder").Logger(),
	}
}

// storedWeight is the msgpack form of one asset weight.
type storedWeight struct {
	Asset  string  `msgpack:"a"`
	Weight float64 `msgpack:"w"`
}

func encodeWeights(weights domain.OrderedWeights) ([]byte, error) {
	stored := make([]storedWeight, len(weights))
	for i, aw := range weights {
		stored[i] = storedWeight{Asset: aw.Asset, Weight: aw.Weight}
	}
	return msgpack.Marshal(stored)
}

func decodeWeights(data []byte) (domain.OrderedWeights, error) {
	var stored []storedWeight
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	out := make(domain.OrderedWeights, len(stored))
	for i, sw := range stored {
		out[i] = domain.AssetWeight{Asset: sw.Asset, Weight: sw.Weight}
	}
	return out, nil
}

// SaveDecision implements Recorder.
func (s *SQLite) SaveDecision(ctx context.Context, d domain.Decision) error {
	defer utils.MeasureDBQuery("save_decision", s.log)(1)

	blob, err := encodeWeights(d.AssetWeights)
	if err != nil {
		return fmt.Errorf("failed to encode decision weights: %w", err)
	}
	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO decisions (id, created_at, source_strategy, cash_weight, weights, warnings)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.ID, d.Timestamp.UTC().UnixNano(), d.SourceStrategy, d.CashWeight, blob, strings.Join(d.Warnings, "\n"))
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// LatestDecision implements Recorder.
func (s *SQLite) LatestDecision(ctx context.Context) (*domain.Decision, error) {
	var (
		d        domain.Decision
		created  int64
		blob     []byte
		warnings string
	)
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, created_at, source_strategy, cash_weight, weights, warnings
		FROM decisions ORDER BY created_at DESC, rowid DESC LIMIT 1
	`).Scan(&d.ID, &created, &d.SourceStrategy, &d.CashWeight, &blob, &warnings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest decision: %w", err)
	}

	d.Timestamp = time.Unix(0, created).UTC()
	if d.AssetWeights, err = decodeWeights(blob); err != nil {
		return nil, fmt.Errorf("failed to decode decision %s weights: %w", d.ID, err)
	}
	if warnings != "" {
		d.Warnings = strings.Split(warnings, "\n")
	}
	return &d, nil
}

// SaveRun implements Recorder. The run, its strategy summaries, NAV paths and
// allocation histories are written in one transaction.
func (s *SQLite) SaveRun(ctx context.Context, run *backtest.Run) error {
	points := 0
	for _, res := range run.Results {
		points += len(res.NAV)
	}
	defer utils.MeasureDBQuery("save_run", s.log)(int64(points))

	summary := Summarize(run)
	strategies := make([]string, len(summary.Strategies))
	for i, st := range summary.Strategies {
		strategies[i] = st.Strategy
	}

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO backtest_runs (id, started_at, finished_at, train_window, test_window, windows, risk_enabled, strategies)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.ID, summary.StartedAt.UnixNano(), summary.FinishedAt.UnixNano(),
			summary.TrainWindow, summary.TestWindow, summary.Windows, summary.RiskEnabled, strings.Join(strategies, ","))
		if err != nil {
			return fmt.Errorf("failed to insert backtest run: %w", err)
		}

		navStmt, err := tx.PrepareContext(ctx, `INSERT INTO nav_points (run_id, strategy, date, nav) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare nav insert: %w", err)
		}
		defer navStmt.Close()

		allocStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_allocations (run_id, strategy, window_index, date, cash_weight, weights)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare allocation insert: %w", err)
		}
		defer allocStmt.Close()

		for i, res := range run.Results {
			metrics, err := msgpack.Marshal(summary.Strategies[i].Metrics)
			if err != nil {
				return fmt.Errorf("failed to encode %s metrics: %w", res.Strategy, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO backtest_results (run_id, strategy, final_nav, metrics, skipped_windows)
				VALUES (?, ?, ?, ?, ?)
			`, run.ID, res.Strategy, res.FinalNAV(), metrics, len(res.Skipped))
			if err != nil {
				return fmt.Errorf("failed to insert %s result: %w", res.Strategy, err)
			}
			for _, p := range res.NAV {
				if _, err := navStmt.ExecContext(ctx, run.ID, res.Strategy, p.Date.UTC().Unix(), p.NAV); err != nil {
					return fmt.Errorf("failed to insert %s nav point: %w", res.Strategy, err)
				}
			}
			for _, a := range res.Allocations {
				weights, err := encodeWeights(a.Weights)
				if err != nil {
					return fmt.Errorf("failed to encode %s allocation: %w", res.Strategy, err)
				}
				if _, err := allocStmt.ExecContext(ctx, run.ID, res.Strategy, a.Window, a.Date.UTC().Unix(), a.Cash, weights); err != nil {
					return fmt.Errorf("failed to insert %s allocation: %w", res.Strategy, err)
				}
			}
		}
		return nil
	})
}

// ListRuns implements Recorder, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, started_at, finished_at, train_window, test_window, windows, risk_enabled
		FROM backtest_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}

	var runs []RunSummary
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.TrainWindow, &r.TestWindow, &r.Windows, &r.RiskEnabled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		r.FinishedAt = time.Unix(0, finished).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	rows.Close()

	// Results are loaded after the run cursor is closed; the pool may hold a
	// single connection.
	for i := range runs {
		if runs[i].Strategies, err = s.loadStrategies(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLite) loadStrategies(ctx context.Context, runID string) ([]StrategySummary, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT r.strategy, r.final_nav, r.skipped_windows, r.metrics
		FROM backtest_results r
		JOIN backtest_runs b ON b.id = r.run_id
		WHERE r.run_id = ?
		ORDER BY instr(',' || b.strategies || ',', ',' || r.strategy || ',')
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StrategySummary
	for rows.Next() {
		var (
			st   StrategySummary
			blob []byte
		)
		if err := rows.Scan(&st.Strategy, &st.FinalNAV, &st.Skipped, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		if err := msgpack.Unmarshal(blob, &st.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode %s metrics: %w", st.Strategy, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest results: %w", err)
	}
	return out, nil
}

// LoadNAV implements Recorder.
func (s *SQLite) LoadNAV(ctx context.Context, runID, strategy string) ([]backtest.NAVPoint, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT date, nav FROM nav_points WHERE run_id = ? AND strategy = ? ORDER BY date
	`, runID, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to query nav points: %w", err)
	}
	defer rows.Close()

	var out []backtest.NAVPoint
	for rows.Next() {
		var (
			date int64
			p    backtest.NAVPoint
		)
		if err := rows.Scan(&date, &p.NAV); err != nil {
			return nil, fmt.Errorf("failed to scan nav point: %w", err)
		}
		p.Date = time.Unix(date, 0).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav points: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// LoadAllocations implements Recorder. A stored strategy that never held a
// position returns an empty slice.
func (s *SQLite) LoadAllocations(ctx context.Context, runID, strategy string) ([]backtest.AllocationRecord, error) {
	var exists int
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backtest_results WHERE run_id = ? AND strategy = ?
	`, runID, strategy).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up backtest result: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT window_index, date, cash_weight, weights
		FROM backtest_allocations WHERE run_id = ? AND strategy = ? ORDER BY window_index
	`, runID, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	out := []backtest.AllocationRecord{}
	for rows.Next() {
		var (
			a    backtest.AllocationRecord
			date int64
			blob []byte
		)
		if err := rows.Scan(&a.Window, &date, &a.Cash, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		if a.Weights, err = decodeWeights(blob); err != nil {
			return nil, fmt.Errorf("failed to decode allocation weights: %w", err)
		}
		a.Date = time.Unix(date, 0).UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}
	return out, nil
}

// Close implements Recorder.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var (
	_ Recorder = (*SQLite)(nil)
	_ Recorder = (*Memory)(nil)
)
