package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed means a physical connection could not be opened.
	// It is never retried internally.
	ErrConnectionFailed = errors.New("connection: could not open a physical connection")

	// ErrInvalidOperation covers mode and role misuse: a read on a
	// write-only manager, a write on a read-only connection, or completing a
	// transaction twice.
	ErrInvalidOperation = errors.New("connection: invalid operation")
)

// ErrAlreadyCompleted is returned by the second and later completion calls on
// one transaction.
var ErrAlreadyCompleted = fmt.Errorf("transaction already completed: %w", ErrInvalidOperation)

// ErrTxRolledBack refines ErrAlreadyCompleted for transactions that ended in
// a rollback, so callers can tell an abandoned transaction from a committed
// one without holding the Tx.
var ErrTxRolledBack = fmt.Errorf("transaction rolled back: %w", ErrAlreadyCompleted)
