package jobstore

import (
	"path/filepath"

	"conveyor/internal/config"
)

// DefaultPath returns the job database location under the data directory.
func DefaultPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "jobs.db")
}
