package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowerBarrierGolden(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "lower_barrier.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failed checks: %v", result.Errors)
}
