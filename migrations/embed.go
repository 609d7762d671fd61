// Package migrations embeds the bridge schema into the binary.
//
// Importing it for side effects points database.MigrationsFS at the
// embedded files.
package migrations

import (
	"embed"

	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/database"
)

//go:embed *.up.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
}
