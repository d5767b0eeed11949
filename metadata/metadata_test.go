package metadata

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prabhat2912/mini-database-engine/types"
)

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func TestLoadSchemasDecodesTablesAndColumns(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // table_count

	writeString(&buf, "users")
	binary.Write(&buf, binary.LittleEndian, uint32(2)) // column_count

	writeString(&buf, "id")
	binary.Write(&buf, binary.LittleEndian, uint32(0)) // INTEGER
	binary.Write(&buf, binary.LittleEndian, uint32(4))

	writeString(&buf, "name")
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // VARCHAR
	binary.Write(&buf, binary.LittleEndian, uint32(64))

	schemas, err := LoadSchemas(&buf)
	require.NoError(t, err)
	require.Len(t, schemas, 1)

	assert.Equal(t, "users", schemas[0].Name)
	require.Len(t, schemas[0].Schema.Columns, 2)
	assert.Equal(t, types.INTEGER, schemas[0].Schema.Columns[0].Type)
	assert.Equal(t, types.VARCHAR, schemas[0].Schema.Columns[1].Type)
	assert.Equal(t, 64, schemas[0].Schema.Columns[1].DeclaredSize)
}

func TestLoadSchemasRejectsUnknownTypeTag(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	writeString(&buf, "t")
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	writeString(&buf, "c")
	binary.Write(&buf, binary.LittleEndian, uint32(99)) // invalid tag
	binary.Write(&buf, binary.LittleEndian, uint32(0))

	_, err := LoadSchemas(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCorruption)
}

func TestLoadSchemasRejectsTruncatedInput(t *testing.T) {
	_, err := LoadSchemas(bytes.NewReader([]byte{1, 2}))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCorruption)
}
