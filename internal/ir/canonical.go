package ir

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical encodes a Value as RFC 8785 canonical JSON. This is
// the only serialization used for identity computation and chain
// hashing.
//
// Properties:
//   - object keys sorted by UTF-16 code units
//   - strings NFC normalized, minimal escaping, no HTML escaping
//   - integers only; a float anywhere is a structural error
//   - null is a structural error
//
// The encoding is total over the Value domain and fails loudly for
// anything outside it.
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is outside the canonical domain")
	case String:
		encodeCanonicalString(buf, string(val))
		return nil
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
		return nil
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("unsupported type in canonical domain: %T", v)
	}
}

// encodeCanonicalString writes a JSON string with RFC 8785 escaping:
// only quote, backslash, and control characters U+0000..U+001F are
// escaped. <, >, &, U+2028, and U+2029 are written literally. The
// two-character escapes \b \t \n \f \r are preferred over \u00XX.
func encodeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\t':
			buf.WriteString(`\t`)
		case '\n':
			buf.WriteString(`\n`)
		case '\f':
			buf.WriteString(`\f`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// MustMarshalCanonical is MarshalCanonical for values that are known to
// be inside the canonical domain, typically records the kernel built
// itself. A failure here is a kernel defect, not an input error.
func MustMarshalCanonical(v Value) []byte {
	data, err := MarshalCanonical(v)
	if err != nil {
		panic(fmt.Sprintf("KERNEL_FAULT/MALFORMED_ENCODING: %v", err))
	}
	return data
}
