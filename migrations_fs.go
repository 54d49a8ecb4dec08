package twitchlistener

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the listener schema migration tree, including the
// sqlite dialect alternatives under data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

// GetMigrationsFS returns the embedded migration tree. Deployments using
// go-persistence-bun register it via the migrations package.
func GetMigrationsFS() fs.FS {
	return migrationsFS
}
