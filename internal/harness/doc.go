// Package harness provides a conformance testing framework for the
// lowering pipelines.
//
// A scenario is a YAML document holding a textual program, a pipeline
// (preset name or inline pass list), and checks over the lowered
// result. The harness parses the program, drives the pipeline to
// fixpoint, and evaluates three kinds of checks:
//
//   - op_count: the lowered program contains exactly N operations of an
//     opcode
//   - applied: the driver performed exactly N rewrites
//   - numeric: the program computes the same values before and after
//     lowering, element for element
//
// The numeric check is the load-bearing one: it reruns the reference
// evaluator on a freshly parsed copy of the program and on the lowered
// graph, so a pipeline that type-checks but miscomputes fails loudly.
//
// Golden comparison uses the canonical textual form of the lowered
// program, which is deterministic for a given program and pipeline.
package harness
