// Package transforms holds the lowering rules that take structured
// tensor programs to hardware-parallel form: parallel-loop fusion,
// the contraction lowering family (unrolling to native tiles, unit-dim
// folding, lowering to the concrete instruction), shuffle and barrier
// expansion, vectorization, and the tiling/fusion steps that produce
// the loop structure in the first place.
//
// Every rule is a rewrite.Pattern: it either rewrites its anchor
// completely or declines with a reason and leaves the graph untouched.
// Rules never call each other; they communicate only through the graph,
// which the driver re-scans after every application.
package transforms
