// Package rewrite drives graph-to-graph lowering: a deterministic,
// single-writer pattern loop over the program graph.
//
// Patterns are pure graph transformations anchored on one opcode. The
// driver walks the graph in program order, applies the first pattern
// that matches, and restarts the walk, so a run over a given graph with
// a given pattern list is fully reproducible. A pattern that inspects
// its anchor and finds a precondition unmet declines with a structured
// reason rather than failing the run.
package rewrite
