// Package catalog holds the native instruction catalog: the set of
// hardware contraction kinds (their element type triples and native
// register tile shapes) grouped by target, loaded from embedded CUE
// descriptor files.
//
// The catalog is the only package that constructs ir.MmaKind values;
// everything downstream receives kinds through the registry interface
// and never inspects target names.
package catalog
