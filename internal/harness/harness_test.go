package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/maha_mantra_practice.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_SavesAndResolvesReferences(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: refs
description: references resolve to saved ids and fields
id_prefix: ref
flow:
  - op: create_user
    args: { display_name: Radha }
    save: radha
  - op: start_session
    args: { user_id: $radha, intention: japa }
    save: japa
    expect:
      result: { id: ref-2, user_id: $radha.id, status: ACTIVE }
  - op: get_progress
    args: { user_id: $japa.user_id }
    expect:
      result: { user_id: ref-1, total_sessions: 0 }
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Pass, res.Errors)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, OutcomeOK, res.Trace[2].Outcome)
}

func TestRun_UnknownReferenceFails(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: dangling
description: dangling reference
flow:
  - op: get_progress
    args: { user_id: $ghost }
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown reference $ghost")
}

func TestRun_ReportsUnexpectedOutcomes(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: mismatches
description: every expectation here is wrong
flow:
  - op: create_user
    args: { display_name: Radha }
    expect:
      result: { display_name: Krishna }
  - op: get_progress
    args: { user_id: nobody }
  - op: create_user
    args: { display_name: Radha }
    expect:
      error: USER_NOT_FOUND
assertions:
  - type: trace_count
    op: create_user
    count: 3
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 4)
	assert.Contains(t, res.Errors[0], "result mismatch at $.display_name")
	assert.Contains(t, res.Errors[1], "outcome USER_NOT_FOUND, expected ok")
	assert.Contains(t, res.Errors[2], "outcome ok, expected USER_NOT_FOUND")
	assert.True(t, strings.HasPrefix(res.Errors[3], "assertion[0]"))
	assert.Equal(t, "USER_NOT_FOUND", res.Trace[1].Outcome)
	assert.Nil(t, res.Trace[1].Result)
}

func TestRun_ClockAdvances(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: clock
description: advance moves the session clock
start: "2026-03-01T09:00:00Z"
flow:
  - op: create_user
    args: { display_name: Radha }
    save: radha
  - op: start_session
    advance: 90m
    args: { user_id: $radha, intention: japa }
    expect:
      result: { started_at: "2026-03-01T10:30:00Z" }
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, res.Pass, res.Errors)
}
