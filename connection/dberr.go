package connection

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/relaydata/dax/o11y"
)

var (
	ErrConstrained = errors.New("violates constraints")
	ErrConflict    = errors.New("serialization conflict, retry the transaction")
	ErrCanceled    = o11y.NewWarning("statement canceled")
	ErrBadConn     = o11y.NewWarning("bad connection")
)

const (
	pgForeignKeyViolation   = "23503"
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgStatementCanceled     = "57014"
	mysqlDupEntry           = 1062
	mysqlForeignKeyViolated = 1452
	mysqlLockDeadlock       = 1213
	mssqlForeignKeyViolated = 547
	mssqlDeadlockVictim     = 1205
	mssqlDupIndex           = 2601
	mssqlUniqueViolation    = 2627
)

// MapError folds the per-driver error taxonomies into this package's errors,
// so callers can branch on engine-independent conditions. Errors with no
// mapping pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ErrBadConn
	}

	pqErr := &pq.Error{}
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgForeignKeyViolation, pgUniqueViolation:
			return fmt.Errorf("%w: %s - %s", ErrConstrained, pqErr.Message, pqErr.Detail)
		case pgSerializationFailure:
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		case pgStatementCanceled:
			return fmt.Errorf("%w: %s", ErrCanceled, pqErr.Message)
		}
		return err
	}

	myErr := &mysql.MySQLError{}
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDupEntry, mysqlForeignKeyViolated:
			return fmt.Errorf("%w: %s", ErrConstrained, myErr.Message)
		case mysqlLockDeadlock:
			return fmt.Errorf("%w: %s", ErrConflict, myErr.Message)
		}
		return err
	}

	msErr := mssql.Error{}
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case mssqlUniqueViolation, mssqlDupIndex, mssqlForeignKeyViolated:
			return fmt.Errorf("%w: %s", ErrConstrained, msErr.Message)
		case mssqlDeadlockVictim:
			return fmt.Errorf("%w: %s", ErrConflict, msErr.Message)
		}
		return err
	}

	liteErr := sqlite3.Error{}
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %s", ErrConstrained, liteErr.Error())
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
		}
		return err
	}

	return err
}

// IsConflict reports whether err is a serialization failure or lock conflict
// that a fresh transaction attempt may resolve.
func IsConflict(err error) bool {
	return errors.Is(MapError(err), ErrConflict)
}
