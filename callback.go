package objtree

import "runtime/debug"

// doUndo pairs a single registered callback: do runs at commit time and may
// veto (return ok=false, err=nil) or fail (err != nil); undo reverses a do
// that already ran, and must never fail.
type doUndo[Do, Undo any] struct {
	do   Do
	undo Undo
}

// safelyRun calls f and turns a panic into an error, mirroring the teacher's
// Tx.safelyCall. Used only for "do" callbacks: per spec §7, an exception from
// a do-callback is recoverable by the editor (it rewinds and reports
// failure), whereas a panic from an undo-callback is the sole catastrophic,
// unrecoverable path and must propagate unrecovered.
func safelyRun(f func() (bool, error)) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			ok, err = false, panicked{p, string(debug.Stack())}
		}
	}()
	return f()
}

// runUndoUnsafe calls an undo callback without any panic recovery. If it
// panics, the panic is the catastrophic path of spec §7 and is left to
// propagate and crash the program; this function exists purely to make that
// intent visible at every call site instead of calling undo callbacks bare.
func runUndoUnsafe(f func()) {
	f()
}

// propagateDoUndoSafe runs `do` callbacks in order, remembering how many
// succeeded; on veto or failure it undoes exactly the ones that ran, in
// reverse, and reports the outcome. This is the single shared primitive
// described in spec §9 ("Callback lists with veto+undo"), grounded directly
// on db/util.hpp's propagate_callback_safe.
func propagateDoUndoSafe[Args any](
	pairs []doUndo[func(Args) (bool, error), func(Args)],
	args Args,
) (ok bool, err error) {
	called := 0
	defer func() {
		if !ok {
			for i := called - 1; i >= 0; i-- {
				runUndoUnsafe(func() { pairs[i].undo(args) })
			}
		}
	}()

	for called = 0; called < len(pairs); called++ {
		o, e := safelyRun(func() (bool, error) { return pairs[called].do(args) })
		if e != nil {
			return false, e
		}
		if !o {
			return false, nil
		}
	}
	return true, nil
}
