// ABOUTME: Scalar property values (string, int, double, bool) as a sealed variant
// ABOUTME: The variant is fixed at construction, so a bool can never read back as an int

package properties

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/nainya/modelregistry/pkg/errdefs"
	"github.com/nainya/modelregistry/pkg/storage"
)

// Kind identifies the variant of a Value
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindDouble
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindInt:
		return "Int"
	case KindDouble:
		return "Double"
	case KindBool:
		return "Bool"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is one of String, Int, Double or Bool
type Value interface {
	Kind() Kind
	// Any returns the Go value: string, int64, float64 or bool
	Any() any
	sealed()
}

type (
	String string
	Int    int64
	Double float64
	Bool   bool
)

func (String) Kind() Kind { return KindString }
func (Int) Kind() Kind    { return KindInt }
func (Double) Kind() Kind { return KindDouble }
func (Bool) Kind() Kind   { return KindBool }

func (v String) Any() any { return string(v) }
func (v Int) Any() any    { return int64(v) }
func (v Double) Any() any { return float64(v) }
func (v Bool) Any() any   { return bool(v) }

func (String) sealed() {}
func (Int) sealed()    {}
func (Double) sealed() {}
func (Bool) sealed()   {}

// FromAny converts a Go value into a Value. bool is matched before any
// integer kind.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, errdefs.InvalidArgument("number %q", v.String())
		}
		return Double(f), nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, errdefs.InvalidArgument("integer %d overflows int64", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), nil
	}

	return nil, errdefs.UnsupportedType("%T", x)
}

// Validate rejects values that cannot travel on the wire
func Validate(v Value) error {
	if d, ok := v.(Double); ok {
		f := float64(d)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return errdefs.InvalidArgument("double value %v is not finite", f)
		}
	}
	return nil
}

// Equal reports whether a and b have the same kind and value
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind() == b.Kind() && a.Any() == b.Any()
}

// Format renders v the way it appears in a filter literal
func Format(v Value) string {
	switch v := v.(type) {
	case String:
		return strconv.Quote(string(v))
	case Int:
		return strconv.FormatInt(int64(v), 10)
	case Double:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(v))
	default:
		return "<nil>"
	}
}

// ToStorage converts v into a tuple value. Doubles keep their exact bits.
func ToStorage(v Value) storage.Value {
	switch v := v.(type) {
	case String:
		return storage.NewStringValue(string(v))
	case Int:
		return storage.NewInt64Value(int64(v))
	case Double:
		return storage.NewFloat64Value(float64(v))
	case Bool:
		return storage.NewBoolValue(bool(v))
	default:
		panic(fmt.Sprintf("properties: unknown value %T", v))
	}
}

// FromStorage is the inverse of ToStorage
func FromStorage(v storage.Value) (Value, error) {
	switch v.Type {
	case storage.TYPE_BYTES:
		return String(v.Str), nil
	case storage.TYPE_INT64:
		return Int(v.I64), nil
	case storage.TYPE_FLOAT64:
		return Double(v.F64), nil
	case storage.TYPE_BOOL:
		return Bool(v.Bool), nil
	default:
		return nil, errdefs.UnsupportedType("storage value type %d", v.Type)
	}
}
