package txn

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// CheckpointRecord is the durable record of the last completed
// checkpoint: nothing before it can ever be needed for recovery again.
type CheckpointRecord struct {
	LastTransactionId types.TransactionId `json:"last_transaction_id"`
	Timestamp         int64               `json:"timestamp"`
}

// Checkpointer persists CheckpointRecord to a JSON sidecar file using a
// write-temp/fsync/rename sequence so a crash mid-write can never leave a
// half-written checkpoint file behind.
type Checkpointer struct {
	mu   sync.RWMutex
	path string
}

// NewCheckpointer returns a Checkpointer persisting to dir/checkpoint.json.
func NewCheckpointer(dir string) *Checkpointer {
	return &Checkpointer{path: filepath.Join(dir, "checkpoint.json")}
}

// Save atomically writes rec to disk.
func (c *Checkpointer) Save(rec CheckpointRecord, now int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec.Timestamp = now

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(types.ErrIo, err.Error())
	}

	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return pkgerrors.Wrapf(types.ErrIo, "write temp checkpoint: %v", err)
	}

	tempFile, err := os.OpenFile(tempPath, os.O_RDWR, 0644)
	if err != nil {
		return pkgerrors.Wrapf(types.ErrIo, "open temp checkpoint: %v", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return pkgerrors.Wrapf(types.ErrIo, "sync temp checkpoint: %v", err)
	}
	tempFile.Close()

	if err := os.Rename(tempPath, c.path); err != nil {
		return pkgerrors.Wrapf(types.ErrIo, "rename checkpoint: %v", err)
	}

	if dir, err := os.Open(filepath.Dir(c.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// Load reads the last saved checkpoint. If none exists yet, it returns a
// zero-value CheckpointRecord rather than an error.
func (c *Checkpointer) Load() (CheckpointRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		return CheckpointRecord{}, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return CheckpointRecord{}, pkgerrors.Wrap(types.ErrIo, err.Error())
	}

	var rec CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return CheckpointRecord{}, pkgerrors.Wrap(types.ErrCorruption, "checkpoint file is corrupted")
	}
	return rec, nil
}
