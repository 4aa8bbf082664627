// Package migrations bundles the schema for the sampled-request and API key
// store, one directory per supported driver.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS

// For returns the migration set and its directory for a database/sql driver name.
func For(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return SqliteMigrations, "sqlite", nil
	case "postgres":
		return PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}
