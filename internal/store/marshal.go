package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
)

// marshalDocument converts a Document to canonical JSON TEXT for storage.
func marshalDocument(doc payload.Document) (string, error) {
	if doc == nil {
		doc = payload.Document{}
	}
	data, err := payload.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// marshalJSON converts a typed value to JSON TEXT.
// Uses json.Encoder with HTML escaping disabled so stored text matches
// the canonical form of documents.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalDocument parses stored JSON TEXT into a Document.
func unmarshalDocument(data string) (payload.Document, error) {
	doc, err := payload.Decode([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// unmarshalJSON parses stored JSON TEXT into v.
func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

func unmarshalNullJSON(data sql.NullString, v any) (bool, error) {
	if !data.Valid {
		return false, nil
	}
	return true, unmarshalJSON(data.String, v)
}
