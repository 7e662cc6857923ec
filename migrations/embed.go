// Package migrations embeds the SQL schema into the binary so notifyd can
// migrate without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/notify-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
