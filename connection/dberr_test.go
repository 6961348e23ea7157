package connection

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/relaydata/dax/o11y"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "nil passes through",
			err:  nil,
			want: nil,
		},
		{
			name: "bad connection",
			err:  fmt.Errorf("exec: %w", driver.ErrBadConn),
			want: ErrBadConn,
		},
		{
			name: "pq unique violation",
			err:  &pq.Error{Code: "23505", Message: "duplicate key"},
			want: ErrConstrained,
		},
		{
			name: "pq serialization failure",
			err:  &pq.Error{Code: "40001", Message: "could not serialize access"},
			want: ErrConflict,
		},
		{
			name: "pq statement canceled",
			err:  &pq.Error{Code: "57014", Message: "canceling statement"},
			want: ErrCanceled,
		},
		{
			name: "mysql duplicate entry",
			err:  &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			want: ErrConstrained,
		},
		{
			name: "mysql deadlock",
			err:  &mysql.MySQLError{Number: 1213, Message: "Deadlock found"},
			want: ErrConflict,
		},
		{
			name: "sqlserver unique violation",
			err:  mssql.Error{Number: 2627, Message: "Violation of UNIQUE KEY constraint"},
			want: ErrConstrained,
		},
		{
			name: "sqlserver deadlock victim",
			err:  mssql.Error{Number: 1205, Message: "Transaction was deadlocked"},
			want: ErrConflict,
		},
		{
			name: "sqlite busy",
			err:  sqlite3.Error{Code: sqlite3.ErrBusy},
			want: ErrConflict,
		},
		{
			name: "sqlite constraint",
			err:  sqlite3.Error{Code: sqlite3.ErrConstraint},
			want: ErrConstrained,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if tt.want == nil {
				assert.NilError(t, got)
				return
			}
			assert.Check(t, cmp.ErrorIs(got, tt.want))
		})
	}
}

func TestMapError_UnknownErrorsPassThrough(t *testing.T) {
	boom := errors.New("boom")
	assert.Check(t, cmp.ErrorIs(MapError(boom), boom))

	// An unmapped pq code keeps its original identity.
	pqErr := &pq.Error{Code: "42601", Message: "syntax error"}
	var got *pq.Error
	assert.Check(t, errors.As(MapError(pqErr), &got))
}

func TestMapError_CanceledIsAWarning(t *testing.T) {
	err := MapError(&pq.Error{Code: "57014"})
	assert.Check(t, o11y.IsWarning(err))
}

func TestIsConflict(t *testing.T) {
	assert.Check(t, IsConflict(&pq.Error{Code: "40001"}))
	assert.Check(t, IsConflict(&mysql.MySQLError{Number: 1213}))
	assert.Check(t, !IsConflict(errors.New("boom")))
}
