package transforms

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smelt-ir/smelt/internal/ir"
	"github.com/smelt-ir/smelt/internal/rewrite"
)

// Pipeline returns a named preset pattern list. Pattern order is match
// priority: earlier patterns claim an anchor before later ones see it.
func Pipeline(name string) ([]rewrite.Pattern, error) {
	switch name {
	case "lower-contraction":
		return []rewrite.Pattern{
			UnrollContraction{},
			FoldUnitDims{},
			LowerContraction{},
		}, nil
	case "vectorize":
		return []rewrite.Pattern{
			VectorizeContraction{},
			VectorizeShuffle{},
		}, nil
	case "lower-shuffle":
		return []rewrite.Pattern{LowerShuffle{}}, nil
	case "lower-barrier":
		return []rewrite.Pattern{LowerBarrier{}}, nil
	case "fuse":
		return []rewrite.Pattern{
			FuseForall{},
			FuseElementwise{},
		}, nil
	case "full":
		return []rewrite.Pattern{
			FuseForall{},
			FuseElementwise{},
			VectorizeContraction{},
			UnrollContraction{},
			FoldUnitDims{},
			LowerContraction{},
			VectorizeShuffle{},
			LowerShuffle{},
			LowerBarrier{},
		}, nil
	}
	return nil, fmt.Errorf("unknown pipeline %q", name)
}

// PipelineNames lists the preset pipelines.
func PipelineNames() []string {
	return []string{"fuse", "vectorize", "lower-contraction", "lower-shuffle", "lower-barrier", "full"}
}

// PipelineConfig is a declarative pipeline: an ordered pass list with
// per-pass parameters, typically loaded from YAML.
type PipelineConfig struct {
	Name   string       `yaml:"name"`
	Passes []PassConfig `yaml:"passes"`
}

// PassConfig names one pass and its parameters. Unused parameters are
// ignored by passes that do not take them.
type PassConfig struct {
	Name          string   `yaml:"name"`
	TileSizes     []int64  `yaml:"tile_sizes,omitempty"`
	ReductionTile int64    `yaml:"reduction_tile,omitempty"`
	Mapping       []string `yaml:"mapping,omitempty"`
	TargetShape   []int64  `yaml:"target_shape,omitempty"`
}

// LoadPipeline parses a YAML pipeline document and materializes its
// pattern list.
func LoadPipeline(data []byte) (PipelineConfig, []rewrite.Pattern, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PipelineConfig{}, nil, fmt.Errorf("parsing pipeline: %w", err)
	}
	patterns, err := FromConfig(cfg)
	if err != nil {
		return PipelineConfig{}, nil, err
	}
	return cfg, patterns, nil
}

// FromConfig materializes the pattern list of a pipeline config. A pass
// name matching a preset pipeline splices that preset in place.
func FromConfig(cfg PipelineConfig) ([]rewrite.Pattern, error) {
	var patterns []rewrite.Pattern
	for i, pass := range cfg.Passes {
		built, err := buildPass(pass)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q pass %d: %w", cfg.Name, i, err)
		}
		patterns = append(patterns, built...)
	}
	return patterns, nil
}

func buildPass(pass PassConfig) ([]rewrite.Pattern, error) {
	switch pass.Name {
	case "tile-elementwise":
		mapping, err := parseMapping(pass.Mapping)
		if err != nil {
			return nil, err
		}
		return []rewrite.Pattern{TileElementwise{Sizes: pass.TileSizes, Mapping: mapping}}, nil
	case "tile-reduction":
		mapping, err := parseMapping(pass.Mapping)
		if err != nil {
			return nil, err
		}
		return []rewrite.Pattern{TileReduction{Size: pass.ReductionTile, Mapping: mapping}}, nil
	case "tile-matmul-reduction":
		return []rewrite.Pattern{TileMatmulReduction{Size: pass.ReductionTile}}, nil
	case "unroll-contraction":
		return []rewrite.Pattern{UnrollContraction{Options: UnrollOptions{TargetShape: pass.TargetShape}}}, nil
	case "fold-unit-dims":
		return []rewrite.Pattern{FoldUnitDims{}}, nil
	case "lower-to-native":
		return []rewrite.Pattern{LowerContraction{}}, nil
	case "fuse-forall":
		return []rewrite.Pattern{FuseForall{}}, nil
	case "fuse-elementwise":
		return []rewrite.Pattern{FuseElementwise{}}, nil
	case "vectorize-contraction":
		return []rewrite.Pattern{VectorizeContraction{}}, nil
	case "vectorize-shuffle":
		return []rewrite.Pattern{VectorizeShuffle{}}, nil
	case "lower-shuffle":
		return []rewrite.Pattern{LowerShuffle{}}, nil
	case "lower-barrier":
		return []rewrite.Pattern{LowerBarrier{}}, nil
	}
	if preset, err := Pipeline(pass.Name); err == nil {
		return preset, nil
	}
	return nil, fmt.Errorf("unknown pass %q", pass.Name)
}

// parseMapping parses printed mapping tags, e.g. "thread(0)".
func parseMapping(specs []string) ([]ir.MappingTag, error) {
	var out []ir.MappingTag
	for _, s := range specs {
		open := strings.IndexByte(s, '(')
		if open < 0 || !strings.HasSuffix(s, ")") {
			return nil, fmt.Errorf("malformed mapping tag %q", s)
		}
		var kind ir.WorkerKind
		switch s[:open] {
		case "thread":
			kind = ir.Thread
		case "warp":
			kind = ir.Warp
		default:
			return nil, fmt.Errorf("unknown worker kind in mapping tag %q", s)
		}
		dim, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil {
			return nil, fmt.Errorf("malformed mapping tag %q: %w", s, err)
		}
		out = append(out, ir.MappingTag{Kind: kind, Dim: dim})
	}
	return out, nil
}
