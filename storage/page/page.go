// Package page is the fixed-layout byte-level codec for page headers, row
// headers, and typed values. It knows nothing about files or caching — it
// only converts between in-memory types.Tuple values and the bytes of one
// 4096-byte page buffer.
//
// Layout (all integers little-endian):
//
//	PageHeader (16 bytes): page_id u32, free_space u32, tuple_count u32, next_page u32
//	followed by tuple_count rows packed contiguously, each:
//	  TupleHeader (16 bytes): tuple_size u32, next_tuple_offset u32 (always 0), tuple_id u64
//	  then the row's values in schema order.
//
// The layout is packed rather than slotted: rows are written back to back
// with no slot directory, and a page that overflows links to the next one
// in a singly linked chain instead of splitting entries across slots.
package page

import (
	"encoding/binary"
	"fmt"
	"math"

	pkgerrors "github.com/pkg/errors"

	"github.com/Prabhat2912/mini-database-engine/types"
)

const (
	// HeaderSize is the fixed size of a PageHeader in bytes.
	HeaderSize = 16

	// TupleHeaderSize is the fixed size of a TupleHeader in bytes.
	TupleHeaderSize = 16
)

// Header is the in-memory form of a data page's fixed header.
type Header struct {
	PageId     types.PageId
	FreeSpace  uint32
	TupleCount uint32
	NextPage   types.PageId
}

// ReadHeader decodes the PageHeader from the first HeaderSize bytes of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errCorruptf("page buffer shorter than header (%d bytes)", len(buf))
	}
	return Header{
		PageId:     types.PageId(binary.LittleEndian.Uint32(buf[0:4])),
		FreeSpace:  binary.LittleEndian.Uint32(buf[4:8]),
		TupleCount: binary.LittleEndian.Uint32(buf[8:12]),
		NextPage:   types.PageId(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// WriteHeader encodes h into the first HeaderSize bytes of buf.
func WriteHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.PageId))
	binary.LittleEndian.PutUint32(buf[4:8], h.FreeSpace)
	binary.LittleEndian.PutUint32(buf[8:12], h.TupleCount)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.NextPage))
}

// InitPage stamps a fresh, empty header into buf (which must be exactly
// types.PageSize bytes) for pageId, and zeroes the rest of the page.
func InitPage(buf []byte, pageId types.PageId) {
	for i := range buf {
		buf[i] = 0
	}
	WriteHeader(buf, Header{
		PageId:     pageId,
		FreeSpace:  uint32(types.PageSize - HeaderSize),
		TupleCount: 0,
		NextPage:   types.NoPage,
	})
}

// ValueSize returns the on-page byte size of v.
func ValueSize(v types.Value) int {
	switch v.Type {
	case types.INTEGER:
		return 4
	case types.DOUBLE:
		return 8
	case types.BOOLEAN:
		return 1
	case types.VARCHAR:
		return 4 + len(v.Str)
	default:
		return 0
	}
}

// TupleSize returns tuple_header_size + the sum of each value's on-page size.
func TupleSize(t types.Tuple) int {
	size := TupleHeaderSize
	for _, v := range t.Values {
		size += ValueSize(v)
	}
	return size
}

// EncodeTuple serializes t into a freshly allocated byte slice.
func EncodeTuple(t types.Tuple) []byte {
	size := TupleSize(t)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], 0) // next_tuple_offset, always 0
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.Id))

	off := TupleHeaderSize
	for _, v := range t.Values {
		switch v.Type {
		case types.INTEGER:
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(v.Int))
			off += 4
		case types.DOUBLE:
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v.Float64))
			off += 8
		case types.BOOLEAN:
			if v.Bool {
				buf[off] = 1
			} else {
				buf[off] = 0
			}
			off += 1
		case types.VARCHAR:
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(v.Str)))
			off += 4
			copy(buf[off:off+len(v.Str)], v.Str)
			off += len(v.Str)
		}
	}
	return buf
}

// DecodeTuple deserializes one tuple from buf starting at offset, per
// schema's column order. It returns the tuple and the offset of the byte
// immediately after it. A read that would run past buf, or a VARCHAR length
// prefix whose declared length overruns the remaining buffer, is reported
// as ErrCorruption rather than silently truncated.
func DecodeTuple(schema types.Schema, buf []byte, offset int) (types.Tuple, int, error) {
	if offset+TupleHeaderSize > len(buf) {
		return types.Tuple{}, 0, errCorruptf("tuple header at offset %d overruns page", offset)
	}

	tupleSize := binary.LittleEndian.Uint32(buf[offset : offset+4])
	tupleId := types.TupleId(binary.LittleEndian.Uint64(buf[offset+8 : offset+16]))

	if offset+int(tupleSize) > len(buf) {
		return types.Tuple{}, 0, errCorruptf("tuple at offset %d (size %d) overruns page", offset, tupleSize)
	}

	cur := offset + TupleHeaderSize
	values := make([]types.Value, len(schema.Columns))
	for i, col := range schema.Columns {
		switch col.Type {
		case types.INTEGER:
			if cur+4 > len(buf) {
				return types.Tuple{}, 0, errCorruptf("INTEGER value at offset %d overruns page", cur)
			}
			values[i] = types.NewInt(int32(binary.LittleEndian.Uint32(buf[cur : cur+4])))
			cur += 4
		case types.DOUBLE:
			if cur+8 > len(buf) {
				return types.Tuple{}, 0, errCorruptf("DOUBLE value at offset %d overruns page", cur)
			}
			values[i] = types.NewDouble(math.Float64frombits(binary.LittleEndian.Uint64(buf[cur : cur+8])))
			cur += 8
		case types.BOOLEAN:
			if cur+1 > len(buf) {
				return types.Tuple{}, 0, errCorruptf("BOOLEAN value at offset %d overruns page", cur)
			}
			values[i] = types.NewBool(buf[cur] != 0)
			cur += 1
		case types.VARCHAR:
			if cur+4 > len(buf) {
				return types.Tuple{}, 0, errCorruptf("VARCHAR length prefix at offset %d overruns page", cur)
			}
			length := int(binary.LittleEndian.Uint32(buf[cur : cur+4]))
			cur += 4
			if length < 0 || cur+length > len(buf) {
				return types.Tuple{}, 0, errCorruptf("VARCHAR value at offset %d (length %d) overruns page", cur, length)
			}
			values[i] = types.NewVarchar(string(buf[cur : cur+length]))
			cur += length
		}
	}

	return types.Tuple{Id: tupleId, Values: values}, offset + int(tupleSize), nil
}

// ReadAllTuples decodes header.TupleCount tuples packed contiguously after
// the page header, in insertion order.
func ReadAllTuples(buf []byte, schema types.Schema, header Header) ([]types.Tuple, error) {
	tuples := make([]types.Tuple, 0, header.TupleCount)
	offset := HeaderSize
	for i := uint32(0); i < header.TupleCount; i++ {
		t, next, err := DecodeTuple(schema, buf, offset)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
		offset = next
	}
	return tuples, nil
}

func errCorruptf(format string, args ...interface{}) error {
	return pkgerrors.Wrap(types.ErrCorruption, fmt.Sprintf(format, args...))
}
