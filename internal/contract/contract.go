// Package contract validates client event payloads before they reach the
// event store.
//
// Validation is a pure function of (event type, schema version, payload).
// A successful validation yields a typed Event; fields the contract does
// not name are preserved in the event's Extensions bag.
package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/sadhana/internal/payload"
)

// Event types with a declared contract.
const (
	TypeVoiceWindow   = "voice_window"
	TypePartnerSignal = "partner_signal"
	TypeStageEval     = "maha_mantra_stage_eval"
)

// SchemaV1 is the only supported payload schema version.
const SchemaV1 = "v1"

var supportedSchemaVersions = map[string]bool{SchemaV1: true}

// SupportedSchemaVersions lists accepted schema versions in sorted order.
func SupportedSchemaVersions() []string {
	out := make([]string, 0, len(supportedSchemaVersions))
	for v := range supportedSchemaVersions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FieldError describes one rejected field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned when a payload violates its contract.
type ValidationError struct {
	EventType string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("invalid %s payload: %s", e.EventType, strings.Join(parts, "; "))
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Event is the typed form of a validated payload.
type Event interface {
	// EventType returns the event type the payload was validated against.
	EventType() string
	// Extra returns the fields not named by the contract.
	Extra() payload.Document
}

// VoiceWindow carries a window of voice metrics.
type VoiceWindow struct {
	CadenceBPM      float64
	PracticeSeconds float64
	Extensions      payload.Document
}

func (VoiceWindow) EventType() string         { return TypeVoiceWindow }
func (v VoiceWindow) Extra() payload.Document { return v.Extensions }

// PartnerSignal is a signal pushed by a partner integration.
type PartnerSignal struct {
	SignalType string
	Extensions payload.Document
}

func (PartnerSignal) EventType() string         { return TypePartnerSignal }
func (p PartnerSignal) Extra() payload.Document { return p.Extensions }

// StageEval records a client-side maha mantra stage evaluation.
type StageEval struct {
	Stage      string
	Extensions payload.Document
}

func (StageEval) EventType() string         { return TypeStageEval }
func (s StageEval) Extra() payload.Document { return s.Extensions }

// Opaque is any event type without a declared contract.
type Opaque struct {
	Type       string
	Extensions payload.Document
}

func (o Opaque) EventType() string         { return o.Type }
func (o Opaque) Extra() payload.Document { return o.Extensions }

// Validate checks doc against the contract for eventType.
func Validate(eventType, schemaVersion string, doc payload.Document) (Event, error) {
	if !supportedSchemaVersions[schemaVersion] {
		return nil, &ValidationError{
			EventType: eventType,
			Fields: []FieldError{{
				Field:  "schema_version",
				Reason: fmt.Sprintf("unsupported schema_version %q", schemaVersion),
			}},
		}
	}
	if doc == nil {
		doc = payload.Document{}
	}

	switch eventType {
	case TypeVoiceWindow:
		var fields []FieldError
		cadence, err := requireNumber(doc, payload.KeyCadenceBPM)
		fields = appendIf(fields, err)
		seconds, err := requireNumber(doc, payload.KeyPracticeSeconds)
		fields = appendIf(fields, err)
		if len(fields) > 0 {
			return nil, &ValidationError{EventType: eventType, Fields: fields}
		}
		return VoiceWindow{
			CadenceBPM:      cadence,
			PracticeSeconds: seconds,
			Extensions:      without(doc, payload.KeyCadenceBPM, payload.KeyPracticeSeconds),
		}, nil

	case TypePartnerSignal:
		signalType, fe := requireString(doc, "signal_type")
		if fe != nil {
			return nil, &ValidationError{EventType: eventType, Fields: []FieldError{*fe}}
		}
		return PartnerSignal{SignalType: signalType, Extensions: without(doc, "signal_type")}, nil

	case TypeStageEval:
		stage, fe := requireString(doc, "stage")
		if fe != nil {
			return nil, &ValidationError{EventType: eventType, Fields: []FieldError{*fe}}
		}
		return StageEval{Stage: stage, Extensions: without(doc, "stage")}, nil
	}

	return Opaque{Type: eventType, Extensions: doc.Clone()}, nil
}

func requireNumber(doc payload.Document, key string) (float64, *FieldError) {
	if !doc.Has(key) {
		return 0, &FieldError{Field: key, Reason: "required"}
	}
	n, ok := doc.Number(key)
	if !ok {
		return 0, &FieldError{Field: key, Reason: "must be numeric"}
	}
	return n, nil
}

func requireString(doc payload.Document, key string) (string, *FieldError) {
	v, ok := doc[key]
	if !ok || v == nil {
		return "", &FieldError{Field: key, Reason: "required"}
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	// Present but not a string: keep the value, render it for the typed field.
	return fmt.Sprint(v), nil
}

func appendIf(fields []FieldError, fe *FieldError) []FieldError {
	if fe != nil {
		return append(fields, *fe)
	}
	return fields
}

func without(doc payload.Document, keys ...string) payload.Document {
	out := doc.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
