package objtree

import (
	"fmt"
)

// ContractError reports a programmer error: double-commit, edit-on-edited,
// rollback called twice, or undo-commit without a prior successful commit.
// These are not recoverable by the caller and are raised via panic.
type ContractError struct {
	Node string
	Msg  string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("objtree: contract violation on %s: %s", e.Node, e.Msg)
}

func contractViolation(node, format string, args ...any) {
	panic(&ContractError{Node: node, Msg: fmt.Sprintf(format, args...)})
}

// LoadError reports a problem reconstructing a node from JSON: a missing
// declared field, an unparseable document, a missing subdirectory for a
// declared container key, or a key that doesn't match a loaded record's own
// key field.
type LoadError struct {
	Path string
	Msg  string
	Err  error
}

func loadErrf(path string, err error, format string, args ...any) error {
	return &LoadError{Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("objtree: load error at %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("objtree: load error at %s: %s", e.Path, e.Msg)
}

// panicked wraps a recovered panic as an error, the same way the teacher's
// Tx.safelyCall turns a panicking callback into a normal error return. Used
// only on the "do" side of a callback pair; "undo" callbacks are never
// wrapped this way; see callback.go.
type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("objtree: callback panicked: %v\n\n%s", p.reason, p.stack)
}
