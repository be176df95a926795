// Package ir provides the program graph all other internal packages read
// and mutate: operations, values, regions, types, and index maps.
//
// This package contains the data model and its structural invariants only.
// All other internal packages import ir; ir imports nothing internal. This
// ensures the graph remains the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Operations live in an arena owned by the Graph, referenced by stable
//     OpID handles; values by stable Value handles. No raw cross-pointers.
//   - Use-lists are index-based adjacency (owner op + operand slot),
//     maintained incrementally on every replace and erase.
//   - A rewrite either fully replaces an operation or leaves it untouched;
//     partial mutation is forbidden.
//   - Per-opcode behavior (verify, iteration bounds, unroll shape) is a
//     capability table dispatched on the opcode tag, not inheritance.
package ir
