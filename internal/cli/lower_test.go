package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smelt-ir/smelt/internal/tracedb"
)

func TestLowerBarrierPipeline(t *testing.T) {
	path := writeProgram(t, barrierProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--pipeline", "lower-barrier"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "sync")
	assert.NotContains(t, output, "barrier %")
}

func TestLowerJSON(t *testing.T) {
	path := writeProgram(t, barrierProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--pipeline", "lower-barrier"})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "lower-barrier", data["pipeline"])
	assert.Equal(t, float64(1), data["applied"])
	assert.Contains(t, data["program"], "sync")
}

func TestLowerWritesOutputFile(t *testing.T) {
	path := writeProgram(t, barrierProgram)
	outPath := filepath.Join(t.TempDir(), "lowered.smelt")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--pipeline", "lower-barrier", "--out", outPath})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "sync")
	assert.Empty(t, buf.String(), "program goes to the file, not stdout")
}

func TestLowerUnknownPipeline(t *testing.T) {
	path := writeProgram(t, barrierProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--pipeline", "frobnicate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "E004")
}

func TestLowerRejectsInvalidProgram(t *testing.T) {
	path := writeProgram(t, mismatchedAddProgram)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--pipeline", "lower-barrier"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "E110")
}

func TestLowerPassesFile(t *testing.T) {
	path := writeProgram(t, barrierProgram)
	passes := `name: custom
passes:
  - name: lower-barrier
`
	passesPath := filepath.Join(t.TempDir(), "passes.yaml")
	require.NoError(t, os.WriteFile(passesPath, []byte(passes), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path, "--passes", passesPath})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "custom", data["pipeline"])
	assert.Equal(t, float64(1), data["applied"])
}

func TestLowerRecordsTrace(t *testing.T) {
	path := writeProgram(t, barrierProgram)
	dbPath := filepath.Join(t.TempDir(), "trace.db")

	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewLowerCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{path, "--pipeline", "lower-barrier", "--trace-db", dbPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, errBuf.String(), "trace session:")

	store, err := tracedb.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	sessions, err := store.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "lower-barrier", sessions[0].Pipeline)

	trace, err := store.ReadTrace(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, trace)
}
