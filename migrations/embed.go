// Package migrations embeds SQL migration files into the binary.
//
// The gateway runs its migrations at startup without needing the SQL files
// on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
