package testutil

import (
	"fmt"
	"sync"
)

// SequentialTokenGenerator generates session tokens in a fixed sequence.
//
// This enables deterministic test execution and golden snapshot
// comparison: the same scenario with the same generator produces
// byte-identical trace databases.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokenGenerator creates a generator with the given prefix.
//
// If prefix is empty, tokens start with "test-session".
func NewSequentialTokenGenerator(prefix string) *SequentialTokenGenerator {
	if prefix == "" {
		prefix = "test-session"
	}
	return &SequentialTokenGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence: prefix-000001,
// prefix-000002, and so on.
//
// Implements tracedb.TokenGenerator.
func (g *SequentialTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
