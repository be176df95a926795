package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// barrierProgram is already in canonical form.
const barrierProgram = `func @main -> vector<4xf32> {
  %0 = constant splat 1.0 : vector<4xf32>
  %1 = barrier %0 : vector<4xf32>
  return %1 : vector<4xf32>
}
`

// messyBarrierProgram parses to the same graph but is not canonical.
const messyBarrierProgram = `// register barrier
func @main -> vector<4xf32> {
      %0 = constant splat 1.0 : vector<4xf32>
  %1 = barrier    %0 : vector<4xf32>
  return %1 : vector<4xf32>
}
`

// mismatchedAddProgram parses but fails verification: the add operands
// have different shapes.
const mismatchedAddProgram = `func @main -> vector<4xf32> {
  %0 = constant splat 1.0 : vector<4xf32>
  %1 = constant splat 2.0 : vector<8xf32>
  %2 = add %0, %1 : vector<4xf32>
  return %2 : vector<4xf32>
}
`

func writeProgram(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.smelt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}
