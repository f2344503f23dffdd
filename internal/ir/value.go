package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value domain.
// Only String, Int, Bool, Array, and Object implement it.
// There is no float type and no null type: both are outside the
// canonical domain and encoding them is a structural error.
type Value interface {
	value() // sealed
}

// String is a UTF-8 text value. NFC normalization is applied at the
// serialization boundary, not at construction.
type String string

func (String) value() {}

// Int is a signed 64-bit integer value. Integers are the only numeric
// type in the canonical domain.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Array is an ordered sequence of values. Order is significant only
// where the data model documents it (scope element lists); unordered
// collections must be canonically sorted before they become an Array.
type Array []Value

func (Array) value() {}

// Object is a string-keyed map of values. Keys are emitted in RFC 8785
// order (UTF-16 code units) by the canonical encoder.
type Object map[string]Value

func (Object) value() {}

// SortedKeys returns the object's keys in RFC 8785 canonical order.
// Go's sort.Strings compares UTF-8 bytes, which orders some key pairs
// differently; RFC 8785 requires UTF-16 code unit comparison.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares two strings by UTF-16 code units as RFC 8785
// requires. utf16.Encode handles surrogate pairs correctly.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// FromGo converts a plain Go value (as produced by yaml or JSON
// decoding) into a Value. Null and floats are rejected, never coerced.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is outside the canonical domain")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are outside the canonical domain: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("floats are outside the canonical domain: %v", val)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type in canonical domain: %T", v)
	}
}

// DecodeValue parses JSON bytes into a Value with strict validation:
// null and floats are rejected. This is the inverse of MarshalCanonical
// for data that stayed inside the canonical domain.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromGo(raw)
}
