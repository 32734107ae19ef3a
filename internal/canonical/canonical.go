// Package canonical produces deterministic JSON encodings of arbitrary
// JSON-like values, used both for signature-hash inputs and for archived
// artifact envelopes.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns deterministic JSON bytes for an arbitrary JSON-like value,
// following Python's json.dumps(value, sort_keys=True) (the
// original Treeherder hashing scheme, _examples/original_source/treeherder/etl/perf.py:42)
// in key order and separators: item separator ", " and key separator ": ",
// not encoding/json's compact "," and ":". Rules:
//   - Objects (map[string]interface{}): keys sorted lexicographically.
//   - Arrays: order preserved.
//   - Numbers/strings/booleans/null: encoded via encoding/json, so scalar
//     output is not byte-identical to Python's for every value: a float64
//     with an integral value has no fractional part (1.0 encodes as 1),
//     non-ASCII characters are written as UTF-8 rather than \u escapes,
//     and <, > and & are written as \u escapes.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(vv.String())
	case float64:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case string:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []string:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteString(": ")
			if err := encode(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Fallback: marshal then re-decode into interface{} with UseNumber,
		// then encode recursively so nested structs and numeric types still
		// sort deterministically.
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Errorf("canonical marshal fallback: %w", err)
		}
		var tmp interface{}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&tmp); err != nil {
			return fmt.Errorf("canonical decode fallback: %w", err)
		}
		return encode(buf, tmp)
	}
	return nil
}
