package objtree

import "encoding/json"

// ChangeFunc is a registered do-callback for a Value[T]. It receives the old
// and new value and returns (true, nil) to accept the change, (false, nil)
// to veto it, or (false, err) if it failed outright.
type ChangeFunc[T any] func(old, new T) (bool, error)

// UndoChangeFunc reverses a ChangeFunc that already ran. It must never fail;
// see callback.go for what happens if it panics anyway.
type UndoChangeFunc[T any] func(old, new T)

// Value holds a single scalar of type T. It is the Go analogue of
// db::Value<T> from value.hpp: get() is always available, Edit() grants
// exclusive mutation rights, and OnChange registers a vetoable do/undo pair.
type Value[T any] struct {
	name   string
	v      T
	equal  func(a, b T) bool // nil => always treat edits as a change
	edited bool
	skip   bool
	onChg  []doUndo[ChangeFunc[T], UndoChangeFunc[T]]
}

// NewValue creates a Value holding v, for types with no defined equality
// (spec §9: "types without defined equality always treat edits as changes").
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// NewComparableValue creates a Value that skips callbacks when Edit().Commit
// is called with an unchanged value.
func NewComparableValue[T comparable](v T) *Value[T] {
	return &Value[T]{v: v, equal: func(a, b T) bool { return a == b }}
}

func (s *Value[T]) Get() T { return s.v }

func (s *Value[T]) IsEdited() bool { return s.edited }

// OnChange registers a do/undo pair, run in registration order at commit
// time. undo may be nil, in which case it is treated as a no-op.
func (s *Value[T]) OnChange(do ChangeFunc[T], undo UndoChangeFunc[T]) {
	if undo == nil {
		undo = func(old, new T) {}
	}
	s.onChg = append(s.onChg, doUndo[ChangeFunc[T], UndoChangeFunc[T]]{do, undo})
}

func (s *Value[T]) MarshalJSON() ([]byte, error) { return json.Marshal(s.v) }

func (s *Value[T]) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &s.v) }

// SetSkipSerialize marks the field as omitted from the enclosing record's
// JSON object (spec §6: "fields marked SkipSerialize are omitted").
func (s *Value[T]) SetSkipSerialize(v bool) { s.skip = v }

// Edit opens an editor over the value. Overlapping edits are a contract
// violation (spec §4.6).
func (s *Value[T]) Edit(autocommit bool) *ValueEditor[T] {
	if s.edited {
		contractViolation(s.name, "Value already edited")
	}
	s.edited = true
	return &ValueEditor[T]{target: s, val: s.v, autocommit: autocommit}
}

// --- editableField ---

func (s *Value[T]) FieldName() string    { return s.name }
func (s *Value[T]) SkipSerialize() bool  { return s.skip }
func (s *Value[T]) setName(name string)  { s.name = name }

func (s *Value[T]) serializeJSON() (json.RawMessage, error) { return json.Marshal(s.v) }

func (s *Value[T]) openEditor(autocommit bool) FieldEditor { return s.Edit(autocommit) }

// attachDir is a no-op for scalars: a Value never owns a directory, only
// Records and Containers do (spec §4.7).
func (s *Value[T]) attachDir(dir Directory, name string) error { return nil }

// ValueEditor is the scoped handle returned by Value.Edit. Only one may be
// open on a Value at a time.
type ValueEditor[T any] struct {
	target     *Value[T]
	val        T
	old        T
	autocommit bool
	finalized  bool
	committed  bool // true iff Commit ran and succeeded
	rolledBack bool
	ran        int // number of do-callbacks that ran during Commit, for UndoCommit
}

// Get returns the working copy, which the caller may freely reassign via Set.
func (e *ValueEditor[T]) Get() T {
	e.requireLive()
	return e.val
}

// Set replaces the working copy.
func (e *ValueEditor[T]) Set(v T) {
	e.requireLive()
	e.val = v
}

func (e *ValueEditor[T]) requireLive() {
	if e.finalized {
		contractViolation(e.target.name, "use of finalized ValueEditor")
	}
}

// Commit writes the working copy into the Value and runs registered
// callbacks, per spec §4.1. If the working copy equals the stored value
// (only checked when T is comparable-aware, i.e. constructed via
// NewComparableValue) it succeeds without running any callback.
func (e *ValueEditor[T]) Commit() (bool, error) {
	if e.finalized {
		contractViolation(e.target.name, "double commit")
	}
	e.finalized = true
	e.target.edited = false

	old := e.target.v
	if e.target.equal != nil && e.target.equal(old, e.val) {
		e.old = old
		e.committed = true
		return true, nil
	}

	e.target.v = e.val
	adapted := make([]doUndo[func(changeArgs[T]) (bool, error), func(changeArgs[T])], len(e.target.onChg))
	for i, p := range e.target.onChg {
		do, undo := p.do, p.undo
		adapted[i] = doUndo[func(changeArgs[T]) (bool, error), func(changeArgs[T])]{
			do:   func(a changeArgs[T]) (bool, error) { return do(a.old, a.new) },
			undo: func(a changeArgs[T]) { undo(a.old, a.new) },
		}
	}
	ok, err := propagateDoUndoSafe(adapted, changeArgs[T]{old, e.val})
	if !ok {
		e.target.v = old
		return false, err
	}
	e.old = old
	e.ran = len(e.target.onChg)
	e.committed = true
	return true, nil
}

// changeArgs bundles (old, new) for propagateDoUndoSafe, which needs a
// single Args type to apply uniformly to every registered callback.
type changeArgs[T any] struct {
	old, new T
}

// Rollback discards the working copy (if not yet committed) or reverses a
// prior successful commit (if already finalized), per spec §4.1/§4.6.
func (e *ValueEditor[T]) Rollback() {
	if e.rolledBack {
		contractViolation(e.target.name, "rollback called twice")
	}
	e.rolledBack = true
	if e.committed {
		e.undoCommit()
	}
	e.finalized = true
}

// UndoCommit reverses a successful Commit. Valid only once, and only after
// Commit returned true.
func (e *ValueEditor[T]) UndoCommit() {
	if !e.committed {
		contractViolation(e.target.name, "UndoCommit without a prior successful Commit")
	}
	e.undoCommit()
}

func (e *ValueEditor[T]) undoCommit() {
	if !e.committed {
		return
	}
	e.committed = false
	if e.target.equal != nil && e.target.equal(e.old, e.target.v) {
		return
	}
	rolledBack := e.target.v
	e.target.v = e.old
	for i := e.ran - 1; i >= 0; i-- {
		runUndoUnsafe(func() { e.target.onChg[i].undo(e.old, rolledBack) })
	}
}

// Close finalizes the editor: if neither Commit nor Rollback was called and
// autocommit is set, Commit runs (its result is ignored, per spec §4.6).
// Call via defer immediately after Edit.
func (e *ValueEditor[T]) Close() {
	if !e.finalized && e.autocommit {
		e.Commit()
	}
	e.target.edited = false
}

// implement FieldEditor so a Value can be used as a record field.
func (e *ValueEditor[T]) commit() (bool, error) { return e.Commit() }
func (e *ValueEditor[T]) rollback()             { e.Rollback() }
