// ABOUTME: Order-preserving encoding for composite keys and record tuples
// ABOUTME: Every value is type-tagged so encoded tuples compare like the originals

package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES   = 1
	TYPE_INT64   = 2
	TYPE_UINT64  = 3
	TYPE_TIME    = 4 // int64 Unix milliseconds
	TYPE_FLOAT64 = 5
	TYPE_BOOL    = 6
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	U64  uint64
	F64  float64
	Bool bool
	Time time.Time
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// NewFloat64Value creates a float64 value
func NewFloat64Value(f float64) Value {
	return Value{Type: TYPE_FLOAT64, F64: f}
}

// NewBoolValue creates a bool value
func NewBoolValue(b bool) Value {
	return Value{Type: TYPE_BOOL, Bool: b}
}

// NewTimeValue creates a time value with millisecond precision
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// EncodeValues encodes values in order-preserving format.
// The leading type tag never equals 0xFF, which EncodeKeyPartial uses as +inf.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = AppendValue(out, v)
	}
	return out
}

// AppendValue appends one encoded value to out
func AppendValue(out []byte, v Value) []byte {
	out = append(out, v.Type)

	var buf [8]byte
	switch v.Type {
	case TYPE_INT64:
		// Flip sign bit so negatives sort first
		binary.BigEndian.PutUint64(buf[:], uint64(v.I64)+(1<<63))
		out = append(out, buf[:]...)

	case TYPE_UINT64:
		binary.BigEndian.PutUint64(buf[:], v.U64)
		out = append(out, buf[:]...)

	case TYPE_TIME:
		binary.BigEndian.PutUint64(buf[:], uint64(v.Time.UnixMilli())+(1<<63))
		out = append(out, buf[:]...)

	case TYPE_FLOAT64:
		binary.BigEndian.PutUint64(buf[:], floatKey(v.F64))
		out = append(out, buf[:]...)

	case TYPE_BOOL:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}

	case TYPE_BYTES:
		out = append(out, escapeString(v.Str)...)
		out = append(out, 0)

	default:
		panic(fmt.Sprintf("unknown type: %d", v.Type))
	}
	return out
}

// floatKey maps IEEE-754 bits onto uint64 so that unsigned comparison
// matches numeric order. Negative numbers have all bits flipped, positive
// numbers only the sign bit.
func floatKey(f float64) uint64 {
	u := math.Float64bits(f)
	if u&(1<<63) != 0 {
		return ^u
	}
	return u | (1 << 63)
}

func floatFromKey(u uint64) float64 {
	if u&(1<<63) != 0 {
		return math.Float64frombits(u &^ (1 << 63))
	}
	return math.Float64frombits(^u)
}

// escapeString escapes 0x00 and 0x01 so 0x00 can terminate the string.
// 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02, which keeps the
// byte order of the escaped form identical to the original.
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b <= 1 {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b <= 1 {
			out = append(out, 0x01, b+1)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x01 && i+1 < len(s) {
			out = append(out, s[i+1]-1)
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes a sequence produced by EncodeValues
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	for pos := 0; pos < len(data); {
		v, n, err := decodeValue(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("value at pos %d: %w", pos, err)
		}
		vals = append(vals, v)
		pos += n
	}
	return vals, nil
}

// decodeValue decodes the value at the start of data and reports how many
// bytes it used.
func decodeValue(data []byte) (Value, int, error) {
	typ, body := data[0], data[1:]
	switch typ {
	case TYPE_INT64, TYPE_UINT64, TYPE_TIME, TYPE_FLOAT64:
		if len(body) < 8 {
			return Value{}, 0, fmt.Errorf("type %d: need 8 bytes, have %d", typ, len(body))
		}
		u := binary.BigEndian.Uint64(body)
		switch typ {
		case TYPE_INT64:
			return NewInt64Value(int64(u - (1 << 63))), 9, nil
		case TYPE_UINT64:
			return NewUint64Value(u), 9, nil
		case TYPE_TIME:
			return NewTimeValue(time.UnixMilli(int64(u - (1 << 63)))), 9, nil
		default:
			return NewFloat64Value(floatFromKey(u)), 9, nil
		}

	case TYPE_BOOL:
		if len(body) == 0 {
			return Value{}, 0, fmt.Errorf("missing bool byte")
		}
		return NewBoolValue(body[0] != 0), 2, nil

	case TYPE_BYTES:
		end := 0
		for end < len(body) && body[end] != 0 {
			if body[end] == 0x01 {
				end++
			}
			end++
		}
		if end >= len(body) {
			return Value{}, 0, fmt.Errorf("unterminated string")
		}
		return NewBytesValue(unescapeString(body[:end])), end + 2, nil
	}
	return Value{}, 0, fmt.Errorf("unknown type %d", typ)
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	out := make([]byte, 4, 64)
	binary.BigEndian.PutUint32(out, prefix)
	for _, v := range vals {
		out = AppendValue(out, v)
	}
	return out
}

// EncodeKeyPartial encodes a partial key for range queries.
// Missing columns are encoded as +/- infinity based on comparison.
func EncodeKeyPartial(prefix uint32, vals []Value, cmp int) []byte {
	out := EncodeKey(prefix, vals)

	// CMP_GT (>) and CMP_LE (<=) need +infinity for missing columns
	if cmp == CMP_GT || cmp == CMP_LE {
		out = append(out, 0xFF)
	}
	return out
}

// Comparison operators
const (
	CMP_GE = 1 // >=
	CMP_GT = 2 // >
	CMP_LT = 3 // <
	CMP_LE = 4 // <=
)

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}
