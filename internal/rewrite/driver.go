package rewrite

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/smelt-ir/smelt/internal/ir"
)

// Pattern is one graph rewrite: anchored on a single opcode, applied in
// place through the operation it matched.
//
// Apply returns nil when the rewrite happened, a *DeclineError when a
// precondition was unmet (the op is left untouched), and any other
// error for genuine failures. Apply may erase the anchor and create new
// operations, but must leave the graph verifiable.
type Pattern interface {
	// Name identifies the pattern in traces and logs.
	Name() string
	// Anchor returns the opcode the pattern matches.
	Anchor() ir.Opcode
	// Apply rewrites op in place.
	Apply(g *ir.Graph, op *ir.Operation) error
}

// Status classifies one trace record.
type Status string

const (
	// StatusApplied marks a successful pattern application.
	StatusApplied Status = "applied"
	// StatusDeclined marks a pattern that matched its anchor opcode but
	// found a precondition unmet.
	StatusDeclined Status = "declined"
)

// Record is one step of a lowering trace.
type Record struct {
	Seq    int64
	Rule   string
	Opcode string
	Status Status
	Reason string
	// Before and After are module fingerprints bracketing the step.
	// Declines leave them equal.
	Before string
	After  string
}

// Recorder persists trace records. Implemented by the trace store;
// tests use in-memory recorders.
type Recorder interface {
	Record(rec Record) error
}

// DefaultMaxApplications bounds one driver run. A well-formed pattern
// set reaches its fixpoint in far fewer steps; the cap turns a cycling
// pattern pair into an error instead of a hang.
const DefaultMaxApplications = 10000

// Driver runs a pattern list to fixpoint over a graph.
//
// CRITICAL: all graph mutations happen on the calling goroutine, in
// program order, restarting the walk after every application. Two runs
// over equal graphs with equal pattern lists produce identical traces.
type Driver struct {
	patterns []Pattern
	maxApps  int
	clock    *Clock
	rec      Recorder
}

// Option configures a Driver.
type Option func(*Driver)

// WithMaxApplications sets the application budget per run.
//
// Default: 10000 (DefaultMaxApplications).
// Use WithMaxApplications(3) for testing budget enforcement.
func WithMaxApplications(n int) Option {
	return func(d *Driver) {
		d.maxApps = n
	}
}

// WithRecorder attaches a trace recorder.
func WithRecorder(rec Recorder) Option {
	return func(d *Driver) {
		d.rec = rec
	}
}

// WithClock supplies a pre-positioned clock, for appending to an
// existing trace session.
func WithClock(clock *Clock) Option {
	return func(d *Driver) {
		d.clock = clock
	}
}

// NewDriver creates a driver over the given patterns. The pattern slice
// is copied; its order is the match priority and never changes.
func NewDriver(patterns []Pattern, opts ...Option) *Driver {
	d := &Driver{
		patterns: append([]Pattern(nil), patterns...),
		maxApps:  DefaultMaxApplications,
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run applies the pattern list to fixpoint. It returns the number of
// applications performed, and an error on pattern failure, budget
// overrun, or context cancellation.
func (d *Driver) Run(ctx context.Context, g *ir.Graph) (int, error) {
	applied := 0
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		progress, rule, err := d.sweep(g, false)
		if err != nil {
			return applied, err
		}
		if !progress {
			break
		}
		applied++
		if applied > d.maxApps {
			return applied, &LimitError{Applications: applied, LastRule: rule}
		}
	}
	// Fixpoint reached: one recording sweep over the survivors captures
	// why each anchored op stayed put.
	if d.rec != nil {
		if _, _, err := d.sweep(g, true); err != nil {
			return applied, err
		}
	}
	slog.Debug("rewrite fixpoint reached", "applications", applied)
	return applied, nil
}

// sweep walks the graph in program order and applies the first matching
// pattern, reporting whether it made progress. With recordDeclines set
// it instead records every decline and applies nothing; callers use
// that mode only at fixpoint, where by definition every attempt
// declines.
func (d *Driver) sweep(g *ir.Graph, recordDeclines bool) (bool, string, error) {
	for _, op := range programOrder(g) {
		for _, p := range d.patterns {
			if p.Anchor() != op.Opcode {
				continue
			}
			before := ir.ModuleFingerprint(g)
			err := p.Apply(g, op)
			if err == nil {
				if recordDeclines {
					return false, "", fmt.Errorf("%s: pattern applied during fixpoint sweep", p.Name())
				}
				slog.Debug("pattern applied", "rule", p.Name(), "op", op.Opcode.String())
				if rerr := d.record(p, op, StatusApplied, "", before, ir.ModuleFingerprint(g)); rerr != nil {
					return false, "", rerr
				}
				return true, p.Name(), nil
			}
			de, ok := AsDecline(err)
			if !ok {
				return false, "", fmt.Errorf("%s: %w", p.Name(), err)
			}
			if recordDeclines {
				if rerr := d.record(p, op, StatusDeclined, de.Reason, before, before); rerr != nil {
					return false, "", rerr
				}
			}
		}
	}
	return false, "", nil
}

func (d *Driver) record(p Pattern, op *ir.Operation, status Status, reason, before, after string) error {
	if d.rec == nil {
		return nil
	}
	return d.rec.Record(Record{
		Seq:    d.clock.Next(),
		Rule:   p.Name(),
		Opcode: op.Opcode.String(),
		Status: status,
		Reason: reason,
		Before: before,
		After:  after,
	})
}

// programOrder collects every operation in the graph, funcs first, then
// their bodies depth-first in region order.
func programOrder(g *ir.Graph) []*ir.Operation {
	var ops []*ir.Operation
	for _, fn := range g.Root().Ops() {
		ops = append(ops, fn)
		for _, r := range fn.Regions {
			r.Walk(func(op *ir.Operation) {
				ops = append(ops, op)
			})
		}
	}
	return ops
}
