package rewrite

import (
	"errors"
	"fmt"

	"github.com/smelt-ir/smelt/internal/ir"
)

// DeclineError reports that a pattern inspected its anchor operation and
// chose not to rewrite it. Declines are expected control flow: the
// driver records them and moves on, and a lowering run only fails on
// genuine errors.
type DeclineError struct {
	// Rule is the declining pattern's name.
	Rule string

	// Op identifies the inspected operation.
	Op ir.OpID

	// Reason is a human-readable precondition that was not met.
	Reason string
}

// Error implements the error interface.
func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s: declined %%op%d: %s", e.Rule, e.Op, e.Reason)
}

// Declinef builds a DeclineError for op with a formatted reason.
func Declinef(rule string, op *ir.Operation, format string, args ...any) error {
	return &DeclineError{Rule: rule, Op: op.ID(), Reason: fmt.Sprintf(format, args...)}
}

// IsDecline reports whether err is (or wraps) a pattern decline.
// Uses errors.As to handle wrapped errors.
func IsDecline(err error) bool {
	var de *DeclineError
	return errors.As(err, &de)
}

// AsDecline unwraps err into a DeclineError when possible.
func AsDecline(err error) (*DeclineError, bool) {
	var de *DeclineError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// LimitError reports that a run exceeded its application budget, which
// almost always means a pattern pair is cycling.
type LimitError struct {
	Applications int
	LastRule     string
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("rewrite budget exceeded after %d applications (last rule %q)",
		e.Applications, e.LastRule)
}

// IsLimit reports whether err is (or wraps) a budget overrun.
func IsLimit(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}
