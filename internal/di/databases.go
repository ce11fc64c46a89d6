package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/recorder"
)

// InitializeDatabases opens the results database when one is configured and
// creates the matching recorder. Without RESULTS_DB results stay in memory.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	if cfg.Storage.ResultsDB == "" {
		container.Recorder = recorder.NewMemory(0)
		log.Info().Msg("Results kept in memory")
		return container, nil
	}

	// Decisions are an audit trail
	resultsDB, err := database.New(database.Config{
		Path:    cfg.Storage.ResultsDB,
		Profile: database.ProfileLedger,
		Name:    "results",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize results database: %w", err)
	}
	if err := resultsDB.Migrate(); err != nil {
		resultsDB.Close()
		return nil, fmt.Errorf("failed to migrate results database: %w", err)
	}

	container.ResultsDB = resultsDB
	container.Recorder = recorder.NewSQLite(resultsDB, log)
	log.Info().Str("path", resultsDB.Path()).Msg("Results database ready")
	return container, nil
}
