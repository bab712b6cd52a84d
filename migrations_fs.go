package hooks

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the go-hooks schema, with sqlite alternatives under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the full embedded migration tree.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}

// GetCoreMigrationsFS returns the webhook and delivery schema tree.
func GetCoreMigrationsFS() fs.FS {
	return migrationsFS
}
