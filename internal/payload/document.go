package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Document is a decoded JSON object.
type Document map[string]any

// Decode parses raw JSON into a Document. Empty input yields an empty
// document. The top-level value must be an object.
func Decode(raw []byte) (Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// MustDecode is Decode for literals in tests and fixtures.
func MustDecode(raw string) Document {
	doc, err := Decode([]byte(raw))
	if err != nil {
		panic(err)
	}
	return doc
}

// Encode returns compact JSON for storage. Nil documents encode as {}.
func (d Document) Encode() (string, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

// Has reports whether key is present, even with a null value.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Number returns the value of key when it is a JSON number.
// Booleans, strings and non-finite values are rejected.
func (d Document) Number(key string) (float64, bool) {
	return AsNumber(d[key])
}

// Bool returns the value of key when it is a JSON boolean.
func (d Document) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

// String returns the value of key when it is a JSON string.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// Object returns the nested object stored under key.
func (d Document) Object(key string) (Document, bool) {
	return AsObject(d[key])
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// AsNumber converts a decoded JSON value to float64. Go numeric types are
// accepted so documents built in code behave like decoded ones.
func AsNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsObject converts a decoded JSON value to a Document.
func AsObject(v any) (Document, bool) {
	switch o := v.(type) {
	case Document:
		return o, true
	case map[string]any:
		return Document(o), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]any:
		return map[string]any(Document(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// FromValue converts a JSON-serialisable value (typically a struct with
// json tags) into a Document.
func FromValue(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return Decode(b)
}
