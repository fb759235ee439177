// Package sqlite3 opens the embedded store on the mattn/go-sqlite3
// driver, the default persisted-state backend: one encrypted database
// file at data_dir/<app_key_hash>.db. Row-level encryption at rest is
// provided by the SQLite build's encryption extension and is out of
// scope for this package, which assumes it is handed a SQL engine with
// row-level encryption at rest already configured.
package sqlite3

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/discretlib/discret-go/roomserver/storage"
)

type dialect struct{}

func (dialect) Placeholder(int) string    { return "?" }
func (dialect) AutoIncrementPK() string   { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

// Open opens (creating if absent) the SQLite database at path and
// provisions the reserved system tables.
func Open(path string) (*storage.Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // a single writer; readers share this file-backed connection
	return storage.Open(db, dialect{})
}
