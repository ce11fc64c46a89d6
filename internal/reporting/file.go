package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/modules/backtest"
)

// FileExporter writes reports under dir/<run id>/.
type FileExporter struct {
	dir string
	log zerolog.Logger
}

// NewFileExporter creates a directory exporter.
func NewFileExporter(dir string, log zerolog.Logger) *FileExporter {
	return &FileExporter{
		dir: dir,
		log: log.With().Str("component", "file_exporter").Logger(),
	}
}

// Export implements Exporter.
func (e *FileExporter) Export(_ context.Context, run *backtest.Run) ([]string, error) {
	files, err := Render(run)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(e.dir, run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var paths []string
	for _, name := range names {
		path := filepath.Join(runDir, name)
		if err := os.WriteFile(path, files[name], 0644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, err)
		}
		paths = append(paths, path)
	}

	e.log.Info().Str("run_id", run.ID).Str("dir", runDir).Msg("Report written")
	return paths, nil
}
