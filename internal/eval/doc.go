// Package eval executes programs directly, as a reference for the
// lowering rules: a program must compute the same values before and
// after any pipeline run.
//
// Execution is lock-step: inside a parallel loop every worker executes
// the same operation before any worker moves to the next one, and a
// write into a buffer visible outside the loop merges all workers'
// contributions into one shared copy. That models the synchronization
// the shuffle and barrier operations describe without simulating real
// concurrency: evaluation is single-threaded and deterministic.
//
// All element types compute in float64, which represents every i8, i32,
// and f32 value the test programs produce exactly.
package eval
