package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "lower_barrier.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "lower-barrier", s.Name)
	assert.Equal(t, "lower-barrier", s.Pipeline)
	assert.Len(t, s.Checks, 4)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "no_such.yaml"))
	assert.Error(t, err)
}

func TestParseScenario_Validation(t *testing.T) {
	valid := `
name: s
description: d
program: "func @main {\n  return\n}\n"
pipeline: fuse
checks:
  - type: applied
    count: 0
`
	_, err := ParseScenario([]byte(valid))
	require.NoError(t, err)

	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "description: d\nprogram: p\npipeline: fuse\nchecks:\n  - type: numeric\n",
			want: "name is required",
		},
		{
			name: "missing program",
			doc:  "name: s\ndescription: d\npipeline: fuse\nchecks:\n  - type: numeric\n",
			want: "program is required",
		},
		{
			name: "no pipeline or passes",
			doc:  "name: s\ndescription: d\nprogram: p\nchecks:\n  - type: numeric\n",
			want: "one of pipeline or passes",
		},
		{
			name: "both pipeline and passes",
			doc: "name: s\ndescription: d\nprogram: p\npipeline: fuse\n" +
				"passes:\n  - name: fuse-forall\nchecks:\n  - type: numeric\n",
			want: "mutually exclusive",
		},
		{
			name: "no checks",
			doc:  "name: s\ndescription: d\nprogram: p\npipeline: fuse\n",
			want: "checks list is required",
		},
		{
			name: "unknown check type",
			doc:  "name: s\ndescription: d\nprogram: p\npipeline: fuse\nchecks:\n  - type: nonsense\n",
			want: "unknown check type",
		},
		{
			name: "op_count without op",
			doc:  "name: s\ndescription: d\nprogram: p\npipeline: fuse\nchecks:\n  - type: op_count\n",
			want: "op is required",
		},
		{
			name: "op_count with unknown opcode",
			doc: "name: s\ndescription: d\nprogram: p\npipeline: fuse\n" +
				"checks:\n  - type: op_count\n    op: frobnicate\n",
			want: "unknown opcode",
		},
		{
			name: "unknown field",
			doc:  "name: s\ndescription: d\nprogram: p\npipeline: fuse\nassertions: []\n",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.doc))
			require.Error(t, err)
			if tc.want != "" {
				assert.ErrorContains(t, err, tc.want)
			}
		})
	}
}
