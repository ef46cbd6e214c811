package history

import (
	"context"
	"embed"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/database"
)

// migrationsDir is the directory of migrationsFS holding the .up.sql files.
const migrationsDir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate creates or upgrades the state_history schema.
func Migrate(ctx context.Context, db *database.DB) error {
	return db.Migrate(ctx, migrationsFS, migrationsDir)
}
