// Package payload holds the decoded JSON documents carried by session
// events and decisions.
//
// A Document is the open key/value bag a client submits. It keeps every
// field the client sent so unknown fields survive storage and replay.
// Typed accessors read numeric and boolean signals without conflating
// JSON booleans with numbers.
//
// MarshalCanonical produces a deterministic serialization used for the
// payload hash stored next to each event.
package payload
