// Package adaptation derives real-time music/guidance decisions from the
// latest session signal.
//
// Decide is the deterministic rule engine: a pure function of a Snapshot.
// VerifyContract checks any candidate decision document, whether it came
// from the rules or from an external Scorer. Engine combines the two: it
// consults the scorer when configured, verifies its candidate and falls
// back to the rules on any failure, so a decision is always produced.
package adaptation
