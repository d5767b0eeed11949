package engine

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prabhat2912/mini-database-engine/txn"
	"github.com/Prabhat2912/mini-database-engine/types"
)

func writeMetaString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

// writeMetadataSidecar writes a one-table, two-column ("id" INTEGER,
// "name" VARCHAR) catalog sidecar for tableName next to dataDir, in the
// binary format metadata.LoadSchemas decodes.
func writeMetadataSidecar(t *testing.T, dataDir, tableName string) {
	t.Helper()
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	writeMetaString(&buf, tableName)
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	writeMetaString(&buf, "id")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	writeMetaString(&buf, "name")
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(64))
	require.NoError(t, os.WriteFile(dataDir+".meta", buf.Bytes(), 0644))
}

func openTestEngine(t *testing.T) *Engine {
	dir := t.TempDir()
	e, err := Open(dir, filepath.Join(dir, "wal.log"), dir, 16)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func usersSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.INTEGER},
		{Name: "name", Type: types.VARCHAR},
	}}
}

func TestCreateTableThenInsertAndSelect(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)

	_, err = e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tr))

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Values[1].Str)
}

func TestCreateTableTwiceReturnsAlreadyExists(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))
	err := e.CreateTable("users", usersSchema())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestGetTableOnUnknownNameReturnsNotFound(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.GetTable("ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDropTableRemovesItFromListing(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))
	require.Contains(t, e.ListTables(), "users")

	require.NoError(t, e.DropTable("users"))
	assert.NotContains(t, e.ListTables(), "users")
}

func TestCreateIndexThenSelectWhere(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar("n")}})
		require.NoError(t, err)
	}
	require.NoError(t, e.Commit(tr))

	require.NoError(t, e.CreateIndex("users", "id"))
	rows, err := e.SelectWhere("users", "id", types.NewInt(3))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestAbortMarksTransactionAborted(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	_, err = e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("x")}})
	require.NoError(t, err)
	require.NoError(t, e.Abort(tr))
	assert.Equal(t, txn.Aborted, tr.State)

	require.Len(t, tr.InsertedRows(), 1, "abort still records the logical undo log even after replaying it")

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	assert.Empty(t, rows, "abort must delete the rows it inserted")
}

func TestDeleteRemovesRowThroughEngine(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	id, err := e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tr))

	tr2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Delete(tr2, "users", id))
	require.NoError(t, e.Commit(tr2))

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateReplacesRowThroughEngine(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	id, err := e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tr))

	tr2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, e.Update(tr2, "users", id, []types.Value{types.NewInt(1), types.NewVarchar("bob")}))
	require.NoError(t, e.Commit(tr2))

	rows, err := e.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Values[1].Str)
}

func TestStatsReportsTupleCountAndBufferPoolCounters(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar("n")}})
		require.NoError(t, err)
	}
	require.NoError(t, e.Commit(tr))

	stats, err := e.Stats("users")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TupleCount)
	assert.Greater(t, stats.BufferPool.Hits+stats.BufferPool.Misses, uint64(0))
}

func TestOpenReattachesTablesFromMetadataSidecar(t *testing.T) {
	dir := t.TempDir()
	writeMetadataSidecar(t, dir, "users")

	e, err := Open(dir, filepath.Join(dir, "wal.log"), dir, 16)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	assert.Contains(t, e.ListTables(), "users")
}

func TestRecoverRedoesCommittedInsertAfterReopen(t *testing.T) {
	dir := t.TempDir()
	writeMetadataSidecar(t, dir, "users")
	walPath := filepath.Join(dir, "wal.log")

	e, err := Open(dir, walPath, dir, 16)
	require.NoError(t, err)

	tr, err := e.Begin()
	require.NoError(t, err)
	_, err = e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tr))
	require.NoError(t, e.Close())

	reopened, err := Open(dir, walPath, dir, 16)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	rows, err := reopened.SelectAll("users")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].Values[1].Str)
}

func TestCheckpointFlushesAndTruncatesWAL(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("users", usersSchema()))

	tr, err := e.Begin()
	require.NoError(t, err)
	_, err = e.Insert(tr, "users", types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("x")}})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tr))

	require.NoError(t, e.Checkpoint())

	tblInfo, err := os.Stat(e.tablePath("users"))
	require.NoError(t, err)
	assert.Greater(t, tblInfo.Size(), int64(0), "checkpoint must flush dirty pages to the table file")

	walInfo, err := os.Stat(filepath.Join(e.dataDir, "wal.log"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), walInfo.Size(), "checkpoint must truncate the WAL")
}
