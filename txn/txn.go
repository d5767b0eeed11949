// Package txn is the Transaction Manager: it owns the lock table and the
// write-ahead log, and drives begin/commit/abort/checkpoint/recover.
//
// Lock order across the whole engine is fixed: TransactionManager mutex,
// then LockManager mutex, then WAL mutex — never the reverse. Every
// method here that needs more than one of those locks acquires them in
// that order.
//
// Every transaction gets a monotonically increasing id and a logical undo
// log of the rows it inserted, alongside the lock table and WAL it
// coordinates. Checkpoints persist atomically via write-temp/fsync/rename.
package txn

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/txn/lock"
	"github.com/Prabhat2912/mini-database-engine/txn/wal"
	"github.com/Prabhat2912/mini-database-engine/types"
)

// State is a transaction's lifecycle state.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

// InsertedRow is one logical undo entry: the heap table and tuple id of a
// row inserted by this transaction, recorded so Abort can remove it.
type InsertedRow struct {
	Table string
	Tuple types.TupleId
}

// Transaction tracks one in-flight unit of work.
type Transaction struct {
	Id    types.TransactionId
	State State

	mu           sync.Mutex
	insertedRows []InsertedRow
}

// RecordInsert appends a logical undo entry for table/tuple. Called by the
// storage facade right after a successful Insert, while the transaction
// is still active.
func (t *Transaction) RecordInsert(table string, tuple types.TupleId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertedRows = append(t.insertedRows, InsertedRow{Table: table, Tuple: tuple})
}

// InsertedRows returns a copy of this transaction's logical undo log.
func (t *Transaction) InsertedRows() []InsertedRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]InsertedRow, len(t.insertedRows))
	copy(out, t.insertedRows)
	return out
}

// PageWriter is the callback recovery uses to re-apply or undo one WAL
// WRITE record's page image. Implemented by the storage facade, which
// knows how to route a table name and PageId back to the right table's
// buffer pool — a PageId alone is not unique across tables, since each
// owns its own file and page numbering.
type PageWriter func(table string, pageId types.PageId, image []byte) error

// Manager coordinates transactions across the whole engine.
type Manager struct {
	mu sync.Mutex

	nextId       types.TransactionId
	transactions map[types.TransactionId]*Transaction

	locks *lock.Manager
	log   *wal.Log

	logger *logrus.Entry
}

// New returns a Manager whose write-ahead log lives at walPath.
func New(walPath string) (*Manager, error) {
	l, err := wal.Open(walPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		nextId:       1,
		transactions: make(map[types.TransactionId]*Transaction),
		locks:        lock.New(),
		log:          l,
		logger:       logrus.WithField("component", "txn"),
	}, nil
}

// Begin starts a new transaction and durably logs its BEGIN record.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Transaction{Id: m.nextId, State: Active}
	m.nextId++
	m.transactions[t.Id] = t

	if err := m.log.AppendBegin(t.Id); err != nil {
		return nil, err
	}
	m.logger.WithField("txn_id", t.Id).Debug("begin")
	return t, nil
}

// AcquireLock attempts a non-blocking SHARED/EXCLUSIVE lock on pageId for
// txn. Held only by code paths that already hold no other mutex —
// respects the fixed lock order (TransactionManager -> LockManager -> WAL).
func (m *Manager) AcquireLock(txn *Transaction, pageId types.PageId, mode lock.Mode) error {
	return m.locks.Acquire(pageId, txn.Id, mode)
}

// LogWrite appends a WRITE record capturing the before/after images of a
// page modification txn is making against table. Must be called before
// the new image is allowed to reach disk (write-ahead).
func (m *Manager) LogWrite(txn *Transaction, table string, pageId types.PageId, before, after []byte) error {
	return m.log.AppendWrite(txn.Id, table, pageId, before, after)
}

// Commit logs COMMIT, releases every lock txn holds, and marks it done.
func (m *Manager) Commit(txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State != Active {
		return types.ErrTransactionState
	}
	if err := m.log.AppendCommit(txn.Id); err != nil {
		return err
	}
	txn.State = Committed
	m.locks.ReleaseAll(txn.Id)
	m.logger.WithField("txn_id", txn.Id).Debug("commit")
	return nil
}

// Abort logs ABORT, releases every lock txn holds, and marks it done. The
// caller is responsible for physically undoing txn's logical inserts
// (RecordInsert entries) against the storage facade before calling Abort,
// or for relying on crash Recover to do so via the WAL's before-images.
func (m *Manager) Abort(txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.State != Active {
		return types.ErrTransactionState
	}
	if err := m.log.AppendAbort(txn.Id); err != nil {
		return err
	}
	txn.State = Aborted
	m.locks.ReleaseAll(txn.Id)
	m.logger.WithField("txn_id", txn.Id).Debug("abort")
	return nil
}

// Checkpoint appends a CHECKPOINT record, flushes every dirty page via
// flushAll, and — once every page is durably on disk — truncates the
// log, since no record before the checkpoint can ever be needed again.
func (m *Manager) Checkpoint(flushAll func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.log.AppendCheckpoint(); err != nil {
		return err
	}
	if err := flushAll(); err != nil {
		return err
	}
	return m.log.Truncate()
}

// Recover replays the write-ahead log: REDO every WRITE record (in
// log order, unconditionally reapplying the after-image), then UNDO the
// writes of any transaction that never reached COMMIT in the log
// (reapplying the before-image, in reverse order). This is the standard
// redo-then-undo recovery algorithm; it is correct because the before/
// after images captured by LogWrite happen-before the corresponding
// physical write ever reaches disk.
func (m *Manager) Recover(apply PageWriter) error {
	records, err := m.log.ReadAll()
	if err != nil {
		return err
	}

	committed := make(map[types.TransactionId]bool)
	for _, r := range records {
		if r.Type == wal.Commit {
			committed[r.Txn] = true
		}
	}

	// REDO pass: reapply every WRITE's after-image, in log order.
	for _, r := range records {
		if r.Type != wal.Write {
			continue
		}
		if err := apply(r.Table, r.PageId, r.After); err != nil {
			return err
		}
	}

	// UNDO pass: for every WRITE belonging to an uncommitted transaction,
	// reapply the before-image, walking the log backwards.
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Type != wal.Write {
			continue
		}
		if committed[r.Txn] {
			continue
		}
		if err := apply(r.Table, r.PageId, r.Before); err != nil {
			return err
		}
	}

	m.logger.WithField("record_count", len(records)).Info("recovery complete")
	return nil
}

// LastTransactionId returns the highest transaction id issued so far, for
// stamping into a CheckpointRecord. It is zero if no transaction has begun.
func (m *Manager) LastTransactionId() types.TransactionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextId - 1
}

// Close closes the underlying write-ahead log.
func (m *Manager) Close() error {
	return m.log.Close()
}
