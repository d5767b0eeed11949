package heap

import (
	"path/filepath"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prabhat2912/mini-database-engine/types"
)

func testTableSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.INTEGER},
		{Name: "name", Type: types.VARCHAR},
	}}
}

func openTestTable(t *testing.T) *HeapTable {
	path := filepath.Join(t.TempDir(), "users.tbl")
	ht, err := Open("users", testTableSchema(), path, 16)
	require.NoError(t, err)
	t.Cleanup(func() { ht.Close() })
	return ht
}

func TestInsertAssignsIdAndSelectAllReturnsIt(t *testing.T) {
	ht := openTestTable(t)

	id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	assert.NotEqual(t, types.UnassignedTuple, id)

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].Id)
	assert.Equal(t, "alice", rows[0].Values[1].Str)
}

func TestInsertRejectsSchemaMismatch(t *testing.T) {
	ht := openTestTable(t)
	_, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSchemaMismatch)
}

func TestInsertOverflowsToNewLinkedPage(t *testing.T) {
	ht := openTestTable(t)

	longName := make([]byte, 3000)
	for i := range longName {
		longName[i] = 'x'
	}

	var lastId types.TupleId
	for i := 0; i < 5; i++ {
		id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar(string(longName))}})
		require.NoError(t, err)
		lastId = id
	}

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, lastId, rows[len(rows)-1].Id)
}

func TestCreateIndexThenSelectWhereUsesIt(t *testing.T) {
	ht := openTestTable(t)

	for i := 0; i < 10; i++ {
		_, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar("n")}})
		require.NoError(t, err)
	}

	require.NoError(t, ht.CreateIndex("id"))

	rows, err := ht.SelectWhere("id", types.NewInt(5))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(5), rows[0].Values[0].Int)
}

func TestSelectWhereFallsBackToScanWithoutIndex(t *testing.T) {
	ht := openTestTable(t)
	_, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("bob")}})
	require.NoError(t, err)

	rows, err := ht.SelectWhere("name", types.NewVarchar("bob"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestTupleCountReflectsInsertsAndDeletes(t *testing.T) {
	ht := openTestTable(t)
	for i := 0; i < 3; i++ {
		_, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar("n")}})
		require.NoError(t, err)
	}

	count, err := ht.TupleCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	require.NoError(t, ht.Delete(rows[0].Id))

	count, err = ht.TupleCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeleteRemovesTupleAndIndexEntry(t *testing.T) {
	ht := openTestTable(t)
	id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, ht.CreateIndex("id"))

	require.NoError(t, ht.Delete(id))

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	assert.Empty(t, rows)

	found, err := ht.SelectWhere("id", types.NewInt(1))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDeleteUnknownIdReturnsNotFound(t *testing.T) {
	ht := openTestTable(t)
	err := ht.Delete(types.TupleId(999))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateReplacesValuesInPlace(t *testing.T) {
	ht := openTestTable(t)
	id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)

	require.NoError(t, ht.Update(id, []types.Value{types.NewInt(1), types.NewVarchar("bob")}))

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].Id)
	assert.Equal(t, "bob", rows[0].Values[1].Str)
}

func TestUpdateKeepsIndexInSyncWithNewValue(t *testing.T) {
	ht := openTestTable(t)
	id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}})
	require.NoError(t, err)
	require.NoError(t, ht.CreateIndex("id"))

	require.NoError(t, ht.Update(id, []types.Value{types.NewInt(2), types.NewVarchar("alice")}))

	old, err := ht.SelectWhere("id", types.NewInt(1))
	require.NoError(t, err)
	assert.Empty(t, old)

	updated, err := ht.SelectWhere("id", types.NewInt(2))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, id, updated[0].Id)
}

func TestUpdateUnknownIdReturnsNotFound(t *testing.T) {
	ht := openTestTable(t)
	err := ht.Update(types.TupleId(999), []types.Value{types.NewInt(1), types.NewVarchar("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestInsertWithHookFiresBeforeMarkingPageDirty(t *testing.T) {
	ht := openTestTable(t)

	var gotPageId types.PageId
	var gotBefore, gotAfter []byte
	_, err := ht.InsertWithHook(
		types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}},
		func(pageId types.PageId, before, after []byte) error {
			gotPageId = pageId
			gotBefore = before
			gotAfter = after
			return nil
		},
	)
	require.NoError(t, err)

	assert.Equal(t, ht.firstPage, gotPageId)
	assert.NotEqual(t, gotBefore, gotAfter, "hook must see the page before and after the tuple is written")
}

func TestInsertWithHookErrorAbortsTheInsert(t *testing.T) {
	ht := openTestTable(t)

	boom := pkgerrors.New("boom")
	_, err := ht.InsertWithHook(
		types.Tuple{Values: []types.Value{types.NewInt(1), types.NewVarchar("alice")}},
		func(types.PageId, []byte, []byte) error { return boom },
	)
	require.ErrorIs(t, err, boom)

	rows, err := ht.SelectAll()
	require.NoError(t, err)
	assert.Empty(t, rows, "a rejected hook must leave the table unchanged")
}

func TestRecoverRestoresAllocationCursorsAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.tbl")
	ht, err := Open("users", testTableSchema(), path, 16)
	require.NoError(t, err)

	var lastId types.TupleId
	for i := 0; i < 3; i++ {
		id, err := ht.Insert(types.Tuple{Values: []types.Value{types.NewInt(int32(i)), types.NewVarchar("n")}})
		require.NoError(t, err)
		lastId = id
	}
	require.NoError(t, ht.Close())

	reopened, err := Open("users", testTableSchema(), path, 16)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.SelectAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	newId, err := reopened.Insert(types.Tuple{Values: []types.Value{types.NewInt(99), types.NewVarchar("new")}})
	require.NoError(t, err)
	assert.Greater(t, newId, lastId, "tuple id allocation must continue past the recovered maximum")
}
