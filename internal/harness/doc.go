// Package harness runs scripted practice scenarios against the service.
//
// Each scenario gets a fresh in-memory store, a fake clock and sequential
// ids, so the same file always produces the same trace. Steps call service
// operations directly; the trace records each step's outcome, which is
// either "ok" or the error reason returned.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	start: "2026-03-01T09:00:00Z"
//	flow:
//	  - op: create_user
//	    args: { display_name: Radha }
//	    save: radha
//	  - op: start_session
//	    args: { user_id: $radha, intention: steady japa }
//	    save: japa
//	  - op: ingest_event
//	    advance: 3m
//	    args: { session_id: $japa, event_type: voice_window, payload: { cadence_bpm: 72 } }
//	  - op: end_session
//	    args: { session_id: $japa }
//	    expect:
//	      result: { session: { status: ENDED } }
//	assertions:
//	  - type: trace_count
//	    op: ingest_event
//	    count: 1
//	  - type: final_state
//	    view: progress
//	    key: $radha
//	    expect: { total_sessions: 1 }
//
// "$name" refers to the id of the result saved under name and
// "$name.field" to any field of it.
//
// # Golden Files
//
// RunWithGolden compares the op/outcome trace with
// testdata/golden/{name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
