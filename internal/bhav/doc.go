// Package bhav scores devotional practice against lineage-specific
// golden profiles.
//
// The lineage registry is declared in lineages.cue and loaded once into
// immutable Lineage values. Two evaluators read it: Evaluate scores a
// finished session from its summary and event signals, and EvaluateStage
// scores one learning stage (guided, call_response, independent) from
// aggregated audio metrics. Both are pure functions of their inputs.
package bhav
