package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// execute runs the root command with args and decodes its JSON output.
func execute(t *testing.T, args ...string) (jsonResponse, error) {
	t.Helper()
	cmd := NewRootCommand()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append([]string{"--format", "json"}, args...))

	err := cmd.Execute()
	var resp jsonResponse
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	}
	return resp, err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sadhana.db")
}

func TestRecompute_EmptyDatabase(t *testing.T) {
	resp, err := execute(t, "--db", tempDB(t), "recompute")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.JSONEq(t, `{"days_recomputed":0}`, string(resp.Data))
}

func TestRecompute_TextOutput(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", tempDB(t), "recompute"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Recomputed 0 days.\n", buf.String())
}

func TestExport_NoRows(t *testing.T) {
	resp, err := execute(t, "--db", tempDB(t), "export", "business")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NO_DAILY_ROWS", resp.Error.Code)
}

func TestExport_EmptyDateGivesZeroRow(t *testing.T) {
	resp, err := execute(t, "--db", tempDB(t), "export", "ecosystem", "--date", "2026-03-01")
	require.NoError(t, err)

	var row map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &row))
	assert.Equal(t, "2026-03-01", row["date_key"])
	assert.Equal(t, float64(0), row["webhook_dead_letters"])
}

func TestExport_BadDate(t *testing.T) {
	resp, err := execute(t, "--db", tempDB(t), "export", "business", "--date", "March 1")
	require.Error(t, err)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

func TestWebhooks_ProcessAndList(t *testing.T) {
	db := tempDB(t)

	resp, err := execute(t, "--db", db, "webhooks", "process", "--force")
	require.NoError(t, err)
	assert.JSONEq(t, `{"processed":0,"succeeded":0,"retried":0,"dead_lettered":0,"failed_attempts":0}`, string(resp.Data))

	resp, err = execute(t, "--db", db, "webhooks", "deliveries", "--status", "dead_letter")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(resp.Data))

	resp, err = execute(t, "--db", db, "webhooks", "deliveries", "--status", "lost")
	require.Error(t, err)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

const callResponseMetrics = `
stage: call_response
lineage: vaishnavism
metrics:
  duration_seconds: 40
  voice_ratio_total: 0.58
  voice_ratio_student: 0.74
  voice_ratio_guru: 0.16
  pitch_stability: 0.86
  cadence_bpm: 72
  cadence_consistency: 0.83
  avg_energy: 0.5
`

func writeMetrics(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestEvaluateStage(t *testing.T) {
	path := writeMetrics(t, callResponseMetrics)

	resp, err := execute(t, "--db", tempDB(t), "evaluate-stage", path, "--lineage", "vashnavism")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, "call_response", res["stage"])
	assert.Equal(t, "vaishnavism", res["lineage_id"])
	assert.Equal(t, true, res["passes_golden"])
}

func TestEvaluateStage_Errors(t *testing.T) {
	_, err := execute(t, "--db", tempDB(t), "evaluate-stage", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "--db", tempDB(t), "evaluate-stage", writeMetrics(t, "stage: guided\ntempo: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse metrics file")

	resp, err := execute(t, "--db", tempDB(t), "evaluate-stage", writeMetrics(t, callResponseMetrics), "--stage", "encore")
	require.Error(t, err)
	assert.Equal(t, "UNSUPPORTED_STAGE", resp.Error.Code)
}

func TestConfigFileAndFlagLayering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "sadhana.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db_path: "+filepath.Join(dir, "from-config.db")+"\n"), 0o600))

	_, err := execute(t, "--config", cfgPath, "recompute")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "from-config.db"))

	flagDB := filepath.Join(dir, "from-flag.db")
	_, err = execute(t, "--config", cfgPath, "--db", flagDB, "recompute")
	require.NoError(t, err)
	assert.FileExists(t, flagDB)

	_, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "recompute")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_HarnessScenarios(t *testing.T) {
	resp, err := execute(t, "test", "../harness/testdata/scenarios")
	require.NoError(t, err)

	var res TestResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Passed)
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: bad
description: expects the wrong outcome
flow:
  - op: get_progress
    args: { user_id: nobody }
`), 0o600))

	resp, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var res TestResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Scenarios[0].Errors[0], "USER_NOT_FOUND")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.yaml"), []byte(`
name: one
description: a single user
flow:
  - op: create_user
    args: { display_name: Radha }
`), 0o600))

	_, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(filepath.Join(root, "golden", "one.golden"))
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"one","trace":[{"op":"create_user","outcome":"ok","step":1}]}`, string(golden))

	_, err = execute(t, "test", dir)
	require.NoError(t, err)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestServe_HealthAndShutdown(t *testing.T) {
	ready := make(chan string, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Database: tempDB(t)},
		Addr:        "127.0.0.1:0",
		ready:       ready,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"sadhana"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("server did not stop")
	}
}
