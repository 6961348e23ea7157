package connection

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Querier is the statement-execution contract shared by a tracked connection
// and a transaction, so the same execution code path works transactionally
// or not.
type Querier interface {
	// ExecContext executes the query with placeholder parameters that match
	// the args. Use this if you do not care about the data the query
	// generates.
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// GetContext expects placeholder parameters in the query and will bind
	// args to them. A single row result will be mapped to dest which must be
	// a pointer to a struct. In the case of no result the error returned
	// will be sql.ErrNoRows.
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// SelectContext expects placeholder parameters in the query and will
	// bind args to them. Each resultant row will be scanned into dest, which
	// must be a slice.
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// QueryxContext runs the query and returns the rows for manual scanning.
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

var (
	_ Querier = (*Conn)(nil)
	_ Querier = (*Tx)(nil)
)
