package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetsListsCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTargetsCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "portable")
	assert.Contains(t, output, "test_f32_4x4x4_f32")
	assert.Contains(t, output, "test_f32_2x2x2_f32")
}

func TestTargetsJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTargetsCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	targets, ok := data["targets"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, targets)
	names := make([]string, 0, len(targets))
	for _, raw := range targets {
		info := raw.(map[string]interface{})
		names = append(names, info["name"].(string))
		assert.NotEmpty(t, info["kinds"])
	}
	assert.Contains(t, names, "portable")
	assert.Contains(t, names, "amdgpu_cdna3")
}

func TestTargetsFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTargetsCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--target", "portable"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test_f32_4x4x4_f32")
}

func TestTargetsUnknownTarget(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTargetsCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--target", "frobnicate"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "E008")
}
