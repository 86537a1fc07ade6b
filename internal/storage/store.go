// Package storage persists simulation runs to SQLite for later
// comparison and reporting. The schema is managed by golang-migrate;
// open a store and run MigrateUp before writing to it.
package storage

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

type Store struct {
	*sql.DB
}

// Open opens (or creates) the SQLite database at path without touching
// the schema. Migrations manage the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{db}, nil
}
