// Package engine is the top-level storage facade: a table-name -> heap
// table map, transaction-aware insert/select routing, and the engine's
// own startup/recovery/checkpoint sequencing.
//
// Each table is a HeapTable owning its own file, buffer pool, and
// indexes; the facade fronts them with createTable/dropTable/insert/
// select/index operations and a Transaction Manager for lock+WAL
// coordination.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/metadata"
	"github.com/Prabhat2912/mini-database-engine/storage/bufferpool"
	"github.com/Prabhat2912/mini-database-engine/storage/heap"
	"github.com/Prabhat2912/mini-database-engine/txn"
	"github.com/Prabhat2912/mini-database-engine/txn/lock"
	"github.com/Prabhat2912/mini-database-engine/types"
)

// Engine owns every table in one database directory.
type Engine struct {
	mu sync.RWMutex

	dataDir        string
	bufferPoolSize int

	tables map[string]*heap.HeapTable

	txns         *txn.Manager
	checkpointer *txn.Checkpointer

	log *logrus.Entry
}

// Open opens (or creates) the database rooted at dataDir. walPath and
// checkpointDir are taken from the engine configuration rather than
// hardcoded, so tests can point them at a scratch directory.
func Open(dataDir, walPath, checkpointDir string, bufferPoolSize int) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
	}

	tm, err := txn.New(walPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dataDir:        dataDir,
		bufferPoolSize: bufferPoolSize,
		tables:         make(map[string]*heap.HeapTable),
		txns:           tm,
		checkpointer:   txn.NewCheckpointer(checkpointDir),
		log:            logrus.WithField("component", "engine"),
	}

	schemas, err := loadMetadataSidecar(dataDir)
	if err != nil {
		return nil, err
	}
	for _, ns := range schemas {
		if err := e.CreateTable(ns.Name, ns.Schema); err != nil {
			return nil, err
		}
		e.log.WithField("table", ns.Name).Info("reattached table from metadata sidecar")
	}

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	for _, ent := range entries {
		name := ent.Name()
		if filepath.Ext(name) != ".tbl" {
			continue
		}
		tableName := name[:len(name)-len(".tbl")]
		if _, exists := e.tables[tableName]; exists {
			continue
		}
		// No sidecar entry described this file's schema: a caller that
		// needs it back must call CreateTable itself, which is idempotent
		// against an existing file.
		e.log.WithField("table", tableName).Debug("found table file with no metadata sidecar entry, awaiting CreateTable to reattach")
	}

	if err := e.Recover(); err != nil {
		return nil, err
	}

	return e, nil
}

// loadMetadataSidecar reads the catalog sidecar file next to dataDir, if
// one is present: a database directory "/var/lib/mydb" is described by a
// sidecar at "/var/lib/mydb.meta". A missing sidecar is not an error —
// callers are free to build their catalog with CreateTable instead.
func loadMetadataSidecar(dataDir string) ([]metadata.NamedSchema, error) {
	path := dataDir + ".meta"
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	defer f.Close()
	return metadata.LoadSchemas(f)
}

func (e *Engine) tablePath(name string) string {
	return filepath.Join(e.dataDir, name+".tbl")
}

// CreateTable registers a new table, or reattaches to an already-existing
// file of the same name (so recovery-by-replay can call CreateTable for
// every table it knows about without first checking existence).
func (e *Engine) CreateTable(name string, schema types.Schema) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tables[name]; exists {
		return types.ErrAlreadyExists
	}

	ht, err := heap.Open(name, schema, e.tablePath(name), e.bufferPoolSize)
	if err != nil {
		return err
	}
	e.tables[name] = ht
	e.log.WithField("table", name).Info("table ready")
	return nil
}

// DropTable closes and removes a table's backing file.
func (e *Engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ht, ok := e.tables[name]
	if !ok {
		return types.ErrNotFound
	}
	if err := ht.Close(); err != nil {
		return err
	}
	delete(e.tables, name)
	if err := os.Remove(e.tablePath(name)); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}
	return nil
}

// GetTable returns the named table, or ErrNotFound.
func (e *Engine) GetTable(name string) (*heap.HeapTable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ht, ok := e.tables[name]
	if !ok {
		return nil, types.ErrNotFound
	}
	return ht, nil
}

// ListTables returns every currently registered table name.
func (e *Engine) ListTables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	return names
}

// Begin starts a new transaction against this engine.
func (e *Engine) Begin() (*txn.Transaction, error) {
	return e.txns.Begin()
}

// Insert inserts tuple into table under the given transaction. Before the
// modified page is marked dirty, its exclusive lock is acquired and a WAL
// WRITE record is appended, per the write-ahead ordering every
// transaction-guarded write must honor.
func (e *Engine) Insert(t *txn.Transaction, table string, tuple types.Tuple) (types.TupleId, error) {
	ht, err := e.GetTable(table)
	if err != nil {
		return 0, err
	}

	id, err := ht.InsertWithHook(tuple, e.pageWriteHook(t, table))
	if err != nil {
		return 0, err
	}
	t.RecordInsert(table, id)
	return id, nil
}

// Delete removes the tuple with id tid from table under the given
// transaction, with the same lock-then-log ordering as Insert.
func (e *Engine) Delete(t *txn.Transaction, table string, tid types.TupleId) error {
	ht, err := e.GetTable(table)
	if err != nil {
		return err
	}
	return ht.DeleteWithHook(tid, e.pageWriteHook(t, table))
}

// Update replaces the values of the tuple with id tid in table under the
// given transaction, with the same lock-then-log ordering as Insert.
func (e *Engine) Update(t *txn.Transaction, table string, tid types.TupleId, newValues []types.Value) error {
	ht, err := e.GetTable(table)
	if err != nil {
		return err
	}
	return ht.UpdateWithHook(tid, newValues, e.pageWriteHook(t, table))
}

// pageWriteHook returns a heap.PageWriteHook that acquires an exclusive
// lock on the touched page and appends its before/after images to the WAL
// under t, before the heap table marks the page dirty.
func (e *Engine) pageWriteHook(t *txn.Transaction, table string) heap.PageWriteHook {
	return func(pageId types.PageId, before, after []byte) error {
		if err := e.txns.AcquireLock(t, pageId, lock.Exclusive); err != nil {
			return err
		}
		return e.txns.LogWrite(t, table, pageId, before, after)
	}
}

// SelectAll returns every row currently in table.
func (e *Engine) SelectAll(table string) ([]types.Tuple, error) {
	ht, err := e.GetTable(table)
	if err != nil {
		return nil, err
	}
	return ht.SelectAll()
}

// SelectWhere returns the rows in table whose column equals value. When
// column is indexed, at most one row is returned per value.
func (e *Engine) SelectWhere(table, column string, value types.Value) ([]types.Tuple, error) {
	ht, err := e.GetTable(table)
	if err != nil {
		return nil, err
	}
	return ht.SelectWhere(column, value)
}

// Stats reports table's tuple count and buffer-pool cache hit/miss
// counters.
func (e *Engine) Stats(table string) (TableStats, error) {
	ht, err := e.GetTable(table)
	if err != nil {
		return TableStats{}, err
	}
	count, err := ht.TupleCount()
	if err != nil {
		return TableStats{}, err
	}
	return TableStats{
		TupleCount: count,
		BufferPool: ht.BufferPoolStats(),
	}, nil
}

// TableStats is the reporter payload for one table's Stats call.
type TableStats struct {
	TupleCount int
	BufferPool bufferpool.Stats
}

// CreateIndex builds a secondary index over table.column.
func (e *Engine) CreateIndex(table, column string) error {
	ht, err := e.GetTable(table)
	if err != nil {
		return err
	}
	return ht.CreateIndex(column)
}

// Commit finalizes t.
func (e *Engine) Commit(t *txn.Transaction) error {
	return e.txns.Commit(t)
}

// Abort best-effort deletes every row t inserted from its heap table,
// then marks t aborted. A delete failure is logged, not propagated: t
// still needs to reach the Aborted state, and a crash before this point
// is instead handled by Recover's WAL-driven undo.
func (e *Engine) Abort(t *txn.Transaction) error {
	for _, row := range t.InsertedRows() {
		ht, err := e.GetTable(row.Table)
		if err != nil {
			continue
		}
		if err := ht.Delete(row.Tuple); err != nil && !errors.Is(err, types.ErrNotFound) {
			e.log.WithError(err).
				WithField("table", row.Table).
				WithField("tuple_id", row.Tuple).
				Warn("abort: best-effort row delete failed")
		}
	}
	return e.txns.Abort(t)
}

// Recover replays the write-ahead log against every currently registered
// table, redoing committed writes and undoing uncommitted ones. Called
// once during Open, after every table known to the metadata sidecar has
// been reattached.
func (e *Engine) Recover() error {
	e.mu.RLock()
	tables := make(map[string]*heap.HeapTable, len(e.tables))
	for name, ht := range e.tables {
		tables[name] = ht
	}
	e.mu.RUnlock()

	return e.txns.Recover(func(table string, pageId types.PageId, image []byte) error {
		ht, ok := tables[table]
		if !ok {
			return pkgerrors.Wrapf(types.ErrNotFound, "recovery: unknown table %q", table)
		}
		return ht.WritePageImage(pageId, image)
	})
}

// Checkpoint flushes every table's buffer pool, truncates the WAL, and
// persists a CheckpointRecord.
func (e *Engine) Checkpoint() error {
	e.mu.RLock()
	tables := make([]*heap.HeapTable, 0, len(e.tables))
	for _, ht := range e.tables {
		tables = append(tables, ht)
	}
	e.mu.RUnlock()

	err := e.txns.Checkpoint(func() error {
		for _, ht := range tables {
			if err := ht.Flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	rec := txn.CheckpointRecord{LastTransactionId: e.txns.LastTransactionId()}
	return e.checkpointer.Save(rec, time.Now().Unix())
}

// AcquireLock exposes page-level locking to callers that need explicit
// isolation beyond a single Insert/SelectAll/SelectWhere call.
func (e *Engine) AcquireLock(t *txn.Transaction, pageId types.PageId, mode lock.Mode) error {
	return e.txns.AcquireLock(t, pageId, mode)
}

// Close closes every table and the transaction manager's WAL.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, ht := range e.tables {
		if err := ht.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing table %s: %w", name, err)
		}
	}
	if err := e.txns.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
