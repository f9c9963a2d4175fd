package storage

import (
	"log/slog"

	"github.com/oellm/evalsched/internal/abstractions"
	"github.com/oellm/evalsched/internal/storage/sql"
)

// NewStorage creates a run-history storage instance from the profile's
// database configuration. It currently uses the SQL implementation; the
// default is a sqlite database inside the run directory, clusters may point
// it at a shared postgres instead.
func NewStorage(databaseConfig map[string]any, logger *slog.Logger) (abstractions.Storage, error) {
	return sql.NewStorage(databaseConfig, logger)
}
