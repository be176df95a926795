// Package syntax implements the textual intermediate form: a structured,
// nested, strongly typed notation for the program graph that round-trips
// through parse and print with identical attribute encodings (index maps,
// iteration-bound lists, worker-mapping descriptors, tile-size lists).
//
// The printer is canonical: values are numbered per func in definition
// order, so printing a parsed program reproduces the input byte for byte
// when the input itself was printed by this package.
package syntax
