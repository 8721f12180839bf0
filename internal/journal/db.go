package journal

import (
	"database/sql"
)

// SQLExecutor is the slice of *sql.DB the journal needs. Kept as an
// interface so tests can substitute a transaction-scoped executor.
type SQLExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

var _ SQLExecutor = (*sql.DB)(nil)
