package txn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prabhat2912/mini-database-engine/types"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	c := NewCheckpointer(t.TempDir())

	rec := CheckpointRecord{LastTransactionId: types.TransactionId(7)}
	require.NoError(t, c.Save(rec, 1000))

	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, types.TransactionId(7), loaded.LastTransactionId)
	assert.Equal(t, int64(1000), loaded.Timestamp)
}

func TestLoadWithoutPriorSaveReturnsZeroValue(t *testing.T) {
	c := NewCheckpointer(t.TempDir())
	loaded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, CheckpointRecord{}, loaded)
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	c := NewCheckpointer(dir)
	require.NoError(t, c.Save(CheckpointRecord{}, 1))

	_, err := c.Load()
	require.NoError(t, err)

	tempPath := filepath.Join(dir, "checkpoint.json.tmp")
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr), "temp file must not survive a successful save")
}
