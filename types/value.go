package types

import "strconv"

// DataType is the closed set of column types this engine understands.
type DataType int

const (
	INTEGER DataType = iota // 32-bit signed
	VARCHAR                 // length-prefixed byte string
	BOOLEAN                 // 1 byte
	DOUBLE                  // 64-bit IEEE-754
)

func (t DataType) String() string {
	switch t {
	case INTEGER:
		return "INTEGER"
	case VARCHAR:
		return "VARCHAR"
	case BOOLEAN:
		return "BOOLEAN"
	case DOUBLE:
		return "DOUBLE"
	default:
		return "UNKNOWN"
	}
}

// Value is a tagged union carrying exactly one of the four DataTypes.
// Equality is by Type and payload.
type Value struct {
	Type    DataType
	Int     int32
	Str     string
	Bool    bool
	Float64 float64
}

// NewInt builds an INTEGER value.
func NewInt(v int32) Value { return Value{Type: INTEGER, Int: v} }

// NewVarchar builds a VARCHAR value.
func NewVarchar(v string) Value { return Value{Type: VARCHAR, Str: v} }

// NewBool builds a BOOLEAN value.
func NewBool(v bool) Value { return Value{Type: BOOLEAN, Bool: v} }

// NewDouble builds a DOUBLE value.
func NewDouble(v float64) Value { return Value{Type: DOUBLE, Float64: v} }

// Equal compares tag and payload.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case INTEGER:
		return v.Int == other.Int
	case VARCHAR:
		return v.Str == other.Str
	case BOOLEAN:
		return v.Bool == other.Bool
	case DOUBLE:
		return v.Float64 == other.Float64
	default:
		return false
	}
}

// Stringify projects a Value to the B-Tree key string. VARCHAR passes
// through unchanged; BOOLEAN becomes "0"/"1"; numeric types use their
// decimal textual form.
func (v Value) Stringify() string {
	switch v.Type {
	case VARCHAR:
		return v.Str
	case BOOLEAN:
		if v.Bool {
			return "1"
		}
		return "0"
	case INTEGER:
		return strconv.FormatInt(int64(v.Int), 10)
	case DOUBLE:
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	default:
		return ""
	}
}
