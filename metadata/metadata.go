// Package metadata reads (never writes) the catalog sidecar file that
// describes which tables and columns a database directory holds. The
// sidecar's writer is a separate concern outside this engine's scope;
// here we only need to parse what it produced.
//
// Binary layout (all integers little-endian, all strings raw bytes with
// a u32 length prefix):
//
//	u32 table_count
//	per table:
//	  u32 name_len, name_len bytes of name
//	  u32 column_count
//	  per column:
//	    u32 name_len, name_len bytes of name
//	    u32 type_tag   (0=INTEGER, 1=VARCHAR, 2=BOOLEAN, 3=DOUBLE)
//	    u32 declared_size
package metadata

import (
	"encoding/binary"
	"io"

	pkgerrors "github.com/pkg/errors"

	"github.com/Prabhat2912/mini-database-engine/types"
)

// NamedSchema pairs a table name with its column schema.
type NamedSchema struct {
	Name   string
	Schema types.Schema
}

// LoadSchemas decodes every table/column description in r.
func LoadSchemas(r io.Reader) ([]NamedSchema, error) {
	tableCount, err := readU32(r)
	if err != nil {
		return nil, err
	}

	schemas := make([]NamedSchema, 0, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}

		columnCount, err := readU32(r)
		if err != nil {
			return nil, err
		}

		columns := make([]types.Column, 0, columnCount)
		for j := uint32(0); j < columnCount; j++ {
			colName, err := readString(r)
			if err != nil {
				return nil, err
			}
			typeTag, err := readU32(r)
			if err != nil {
				return nil, err
			}
			declaredSize, err := readU32(r)
			if err != nil {
				return nil, err
			}

			dt, err := decodeType(typeTag)
			if err != nil {
				return nil, err
			}
			columns = append(columns, types.Column{
				Name:         colName,
				Type:         dt,
				DeclaredSize: int(declaredSize),
			})
		}

		schemas = append(schemas, NamedSchema{
			Name:   name,
			Schema: types.Schema{Columns: columns},
		})
	}

	return schemas, nil
}

func decodeType(tag uint32) (types.DataType, error) {
	switch tag {
	case 0:
		return types.INTEGER, nil
	case 1:
		return types.VARCHAR, nil
	case 2:
		return types.BOOLEAN, nil
	case 3:
		return types.DOUBLE, nil
	default:
		return 0, pkgerrors.Wrapf(types.ErrCorruption, "metadata: unknown type tag %d", tag)
	}
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, pkgerrors.Wrap(types.ErrCorruption, "metadata: truncated u32")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readString(r io.Reader) (string, error) {
	length, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", pkgerrors.Wrap(types.ErrCorruption, "metadata: truncated string")
	}
	return string(buf), nil
}
