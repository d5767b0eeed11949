package types

import "github.com/pkg/errors"

// Sentinel error kinds. Call sites wrap these with errors.Wrap/WithMessage
// from github.com/pkg/errors to attach context while keeping errors.Is
// working against the sentinel.
var (
	// ErrNotFound is returned when a table, row, or index is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on a duplicate table or index create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrSchemaMismatch is returned when a tuple's value count or types
	// differ from the table's schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrFull is returned when the buffer pool has no unpinned frame left
	// to evict.
	ErrFull = errors.New("buffer pool full")

	// ErrCorruption is returned when on-disk state is internally
	// inconsistent: a bad page header, an overrunning length prefix, or a
	// file shorter than a declared header claims.
	ErrCorruption = errors.New("corruption")

	// ErrTransactionState is returned for an operation against a
	// non-ACTIVE transaction, or a double begin.
	ErrTransactionState = errors.New("invalid transaction state")

	// ErrLockDenied is returned when a lock acquisition conflicts with an
	// existing grant.
	ErrLockDenied = errors.New("lock denied")

	// ErrIo wraps underlying file read/write/seek failures.
	ErrIo = errors.New("io error")
)
