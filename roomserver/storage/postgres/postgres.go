// Package postgres opens the embedded store on the lib/pq driver, the
// alternative backend for host applications that already run a
// Postgres cluster alongside the default sqlite3 store.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/discretlib/discret-go/roomserver/storage"
)

type dialect struct{}

func (dialect) Placeholder(pos int) string { return fmt.Sprintf("$%d", pos) }
func (dialect) AutoIncrementPK() string    { return "SERIAL PRIMARY KEY" }

// Open connects to the Postgres database named by dsn and provisions
// the reserved system tables.
func Open(dsn string) (*storage.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return storage.Open(db, dialect{})
}
