// Package migrations embeds the SQL schema so the binary can migrate a fresh
// database without the .sql files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/homegateway/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files)
}
