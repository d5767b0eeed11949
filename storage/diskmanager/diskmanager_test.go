package diskmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prabhat2912/mini-database-engine/types"
)

func TestReadPageBeyondEOFYieldsZeroPage(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer dm.Close()

	buf, err := dm.ReadPage(types.PageId(3))
	require.NoError(t, err)
	require.Len(t, buf, types.PageSize)
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}
}

func TestWriteThenReadPageRoundTrip(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer dm.Close()

	page := make([]byte, types.PageSize)
	for i := range page {
		page[i] = byte(i % 256)
	}

	require.NoError(t, dm.WritePage(types.PageId(0), page))
	got, err := dm.ReadPage(types.PageId(0))
	require.NoError(t, err)
	assert.Equal(t, page, got)
}

func TestWritePageExtendsFileWithZeros(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer dm.Close()

	page := make([]byte, types.PageSize)
	page[0] = 0xAB
	require.NoError(t, dm.WritePage(types.PageId(5), page))

	earlier, err := dm.ReadPage(types.PageId(2))
	require.NoError(t, err)
	for _, b := range earlier {
		assert.Equal(t, byte(0), b)
	}

	later, err := dm.ReadPage(types.PageId(5))
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), later[0])
}

func TestWritePageRejectsWrongSize(t *testing.T) {
	dm, err := Open(filepath.Join(t.TempDir(), "t.db"))
	require.NoError(t, err)
	defer dm.Close()

	err = dm.WritePage(types.PageId(0), make([]byte, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCorruption)
}
