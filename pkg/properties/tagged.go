// ABOUTME: Tagged wire form of scalar values and the custom-property map
// ABOUTME: {"<type>_value": v, "metadataType": "Metadata<Type>Value"}, ints as decimal strings

package properties

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

const (
	MetadataStringValue = "MetadataStringValue"
	MetadataIntValue    = "MetadataIntValue"
	MetadataDoubleValue = "MetadataDoubleValue"
	MetadataBoolValue   = "MetadataBoolValue"
)

// Tagged is the wire representation of a Value
type Tagged struct {
	MetadataType string   `json:"metadataType"`
	StringValue  *string  `json:"string_value,omitempty"`
	IntValue     *string  `json:"int_value,omitempty"`
	DoubleValue  *float64 `json:"double_value,omitempty"`
	BoolValue    *bool    `json:"bool_value,omitempty"`
}

// Encode converts v to its tagged form
func Encode(v Value) Tagged {
	switch v := v.(type) {
	case String:
		s := string(v)
		return Tagged{MetadataType: MetadataStringValue, StringValue: &s}
	case Int:
		s := strconv.FormatInt(int64(v), 10)
		return Tagged{MetadataType: MetadataIntValue, IntValue: &s}
	case Double:
		f := float64(v)
		return Tagged{MetadataType: MetadataDoubleValue, DoubleValue: &f}
	case Bool:
		b := bool(v)
		return Tagged{MetadataType: MetadataBoolValue, BoolValue: &b}
	default:
		return Tagged{}
	}
}

// Decode reads the discriminator and the matching value field
func Decode(t Tagged) (Value, error) {
	switch t.MetadataType {
	case MetadataStringValue:
		if t.StringValue == nil {
			return nil, errdefs.InvalidArgument("%s without string_value", t.MetadataType)
		}
		return String(*t.StringValue), nil

	case MetadataIntValue:
		if t.IntValue == nil {
			return nil, errdefs.InvalidArgument("%s without int_value", t.MetadataType)
		}
		i, err := strconv.ParseInt(*t.IntValue, 10, 64)
		if err != nil {
			return nil, errdefs.InvalidArgument("int_value %q", *t.IntValue)
		}
		return Int(i), nil

	case MetadataDoubleValue:
		if t.DoubleValue == nil {
			return nil, errdefs.InvalidArgument("%s without double_value", t.MetadataType)
		}
		return Double(*t.DoubleValue), nil

	case MetadataBoolValue:
		if t.BoolValue == nil {
			return nil, errdefs.InvalidArgument("%s without bool_value", t.MetadataType)
		}
		return Bool(*t.BoolValue), nil

	default:
		return nil, errdefs.UnsupportedType("metadataType %q", t.MetadataType)
	}
}

// Map is a custom-property bag
type Map map[string]Value

// Keys returns the property names in ascending order
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; values are immutable
func (m Map) Clone() Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate checks every key and value
func (m Map) Validate() error {
	for k, v := range m {
		if k == "" {
			return errdefs.InvalidArgument("empty custom property name")
		}
		if v == nil {
			return errdefs.InvalidArgument("custom property %q has no value", k)
		}
		if err := Validate(v); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON writes the tagged object form
func (m Map) MarshalJSON() ([]byte, error) {
	out := make(map[string]Tagged, len(m))
	for k, v := range m {
		if err := Validate(v); err != nil {
			return nil, err
		}
		out[k] = Encode(v)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the tagged object form
func (m *Map) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = nil
		return nil
	}

	var raw map[string]Tagged
	if err := json.Unmarshal(data, &raw); err != nil {
		return errdefs.InvalidArgument("customProperties: %v", err)
	}

	out := make(Map, len(raw))
	for k, t := range raw {
		v, err := Decode(t)
		if err != nil {
			return err
		}
		out[k] = v
	}
	*m = out
	return nil
}
