package objtree

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is the capability every schema node (Value, Record, Container,
// Subset, ConstrainedSet) implements — the "small polymorphic capability
// set" called for by spec §9 in place of the original's variadic template
// composition.
type Field interface {
	FieldName() string
	SkipSerialize() bool
	serializeJSON() (json.RawMessage, error)
}

// FieldEditor is the capability every per-field editor implements, used by
// Base's two-phase commit.
type FieldEditor interface {
	commit() (bool, error)
	rollback()
	undoCommit()
}

// editableField is a Field that also knows how to open and attach a
// directory to itself; implemented by Value, Base-embedding records,
// Container, Subset and ConstrainedSet.
type editableField interface {
	Field
	openEditor(autocommit bool) FieldEditor
	attachDir(dir Directory, name string) error
	setName(name string)
}

// Base is embedded by every generated record type. It implements the
// db::Data<S> machinery from serializable.hpp: a fixed, explicitly
// registered set of named fields, a parent back-pointer, an optional
// attached directory, and whole-record on-change callbacks.
type Base struct {
	name     string
	parent   any
	dir      Directory
	fieldsOK []fieldSlot
	edited   bool
	onChg    []doUndo[func() (bool, error), func()]
}

type fieldSlot struct {
	name  string
	field editableField
}

// Init must be called once, first, from the constructor of every record
// type that embeds Base.
func (b *Base) Init(parent any) {
	b.parent = parent
}

// RegisterField appends a field to the record's schema, in declaration
// order. Call once per field, in the order the JSON object and the
// directory projection should use.
func (b *Base) RegisterField(name string, f editableField) {
	f.setName(name)
	b.fieldsOK = append(b.fieldsOK, fieldSlot{name, f})
}

func (b *Base) Parent() any { return b.parent }

func (b *Base) Directory() Directory { return b.dir }

func (b *Base) IsEdited() bool { return b.edited }

// FieldName returns the name this record was registered under when it's
// used as a nested field of another record; empty for a tree root.
func (b *Base) FieldName() string { return b.name }

func (b *Base) setName(name string) { b.name = name }

func (b *Base) SkipSerialize() bool { return false }

// openEditor lets a record be registered as a field of another record, the
// same way Value/Container/Subset/ConstrainedSet are: Edit's autocommit
// flag is forced false, since a nested record's commit always runs as part
// of its parent's RecordEditor.Commit, not on its own.
func (b *Base) openEditor(autocommit bool) FieldEditor { return b.Edit(false) }

// OnChange registers a whole-record do/undo pair. do takes no arguments and
// may veto; undo must never fail.
func (b *Base) OnChange(do func() (bool, error), undo func()) {
	if undo == nil {
		undo = func() {}
	}
	b.onChg = append(b.onChg, doUndo[func() (bool, error), func()]{do, undo})
}

func (b *Base) serializeJSON() (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, s := range b.fieldsOK {
		if s.field.SkipSerialize() {
			continue
		}
		raw, err := s.field.serializeJSON()
		if err != nil {
			return nil, fmt.Errorf("objtree: serializing field %q: %w", s.name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(s.name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AttachDir attaches a directory to the record, allowed once (spec §4.2:
// "attaching a directory later is allowed once, only while no directory is
// set"), and triggers an immediate write.
func (b *Base) AttachDir(dir Directory, name string) error {
	if b.dir != nil {
		contractViolation(name, "SetDir called twice")
	}
	sub, err := subdirFor(dir, name)
	if err != nil {
		return err
	}
	b.dir = sub
	for _, s := range b.fieldsOK {
		if err := s.field.attachDir(b.dir, s.name); err != nil {
			return err
		}
	}
	return b.writeData()
}

func (b *Base) attachDir(dir Directory, name string) error {
	return b.AttachDir(dir, name)
}

func subdirFor(dir Directory, name string) (Directory, error) {
	if dir == nil {
		return nil, nil
	}
	if name == "" {
		return dir.Clone(), nil
	}
	return dir.Subdir(name, true)
}

func (b *Base) writeData() error {
	if b.dir == nil {
		return nil
	}
	raw, err := b.serializeJSON()
	if err != nil {
		return err
	}
	return b.dir.WriteFile("data.json", raw)
}

// Edit opens a RecordEditor covering every registered field plus the
// record's own on-change callbacks, per spec §4.2.
func (b *Base) Edit(autocommit bool) *RecordEditor {
	if b.edited {
		contractViolation("record", "record already edited")
	}
	b.edited = true
	editors := make([]FieldEditor, len(b.fieldsOK))
	for i, s := range b.fieldsOK {
		editors[i] = s.field.openEditor(false)
	}
	return &RecordEditor{target: b, fieldEditors: editors, autocommit: autocommit}
}

// EditRoot is like Edit, but for the record actually attached to root: it
// brackets the returned editor's lifetime with root's open-edit tracking
// and appends a commit-log snapshot after a successful commit. Nested
// fields keep opening with Edit.
func (b *Base) EditRoot(root *Root, name string, autocommit bool) *RecordEditor {
	e := b.Edit(autocommit)
	e.rt.start(root, name, b)
	return e
}

// RecordEditor is the scoped handle returned by Base.Edit. FieldEditors()
// exposes the per-field editors in declaration order; generated record
// types wrap these into named accessors.
type RecordEditor struct {
	target       *Base
	fieldEditors []FieldEditor
	autocommit   bool
	finalized    bool
	committed    bool
	rolledBack   bool
	fieldsRan    int
	ownRan       int

	rt rootTracking
}

// FieldEditors returns the per-field editors in declaration order, so a
// generated wrapper type can expose named accessors.
func (e *RecordEditor) FieldEditors() []FieldEditor { return e.fieldEditors }

// Commit implements the two-phase protocol of spec §4.2: sub-editors first
// (bottom-up), then the record's own on-change callbacks, then (if a
// directory is attached) an atomic data.json rewrite.
func (e *RecordEditor) Commit() (bool, error) {
	if e.finalized {
		contractViolation("record", "double commit")
	}
	e.finalized = true
	e.target.edited = false

	for e.fieldsRan = 0; e.fieldsRan < len(e.fieldEditors); e.fieldsRan++ {
		ok, err := e.fieldEditors[e.fieldsRan].commit()
		if err != nil || !ok {
			e.undoFieldsFrom(e.fieldsRan)
			e.rt.finish(false)
			return false, err
		}
	}

	adapted := make([]doUndo[func(struct{}) (bool, error), func(struct{})], len(e.target.onChg))
	for i, p := range e.target.onChg {
		do, undo := p.do, p.undo
		adapted[i] = doUndo[func(struct{}) (bool, error), func(struct{})]{
			do:   func(struct{}) (bool, error) { return do() },
			undo: func(struct{}) { undo() },
		}
	}
	ok, err := propagateDoUndoSafe(adapted, struct{}{})
	if !ok {
		e.undoFieldsFrom(len(e.fieldEditors))
		e.rt.finish(false)
		return false, err
	}
	e.ownRan = len(e.target.onChg)

	if werr := e.target.writeData(); werr != nil {
		for i := e.ownRan - 1; i >= 0; i-- {
			runUndoUnsafe(e.target.onChg[i].undo)
		}
		e.undoFieldsFrom(len(e.fieldEditors))
		e.rt.finish(false)
		return false, werr
	}

	e.committed = true
	e.rt.finish(true)
	return true, nil
}

// undoFieldsFrom reverses committed field editors strictly in reverse of
// commit order, stopping after index n (exclusive).
func (e *RecordEditor) undoFieldsFrom(n int) {
	for i := n - 1; i >= 0; i-- {
		runUndoUnsafe(e.fieldEditors[i].undoCommit)
	}
}

// Rollback discards pending edits, or reverses a prior successful commit.
func (e *RecordEditor) Rollback() {
	if e.rolledBack {
		contractViolation("record", "rollback called twice")
	}
	e.rolledBack = true
	if e.committed {
		e.applyUndo()
	}
	e.finalized = true
	e.rt.finish(false)
}

// UndoCommit reverses a successful Commit, valid only once.
func (e *RecordEditor) UndoCommit() {
	if !e.committed {
		contractViolation("record", "UndoCommit without a prior successful Commit")
	}
	e.applyUndo()
}

func (e *RecordEditor) applyUndo() {
	if !e.committed {
		return
	}
	e.committed = false
	for i := e.ownRan - 1; i >= 0; i-- {
		runUndoUnsafe(e.target.onChg[i].undo)
	}
	e.undoFieldsFrom(len(e.fieldEditors))
	runUndoUnsafe(func() {
		if err := e.target.writeData(); err != nil {
			panic(err)
		}
	})
}

func (e *RecordEditor) Close() {
	if !e.finalized && e.autocommit {
		e.Commit()
	}
	e.target.edited = false
	e.rt.finish(false)
}

// implement FieldEditor for *RecordEditor so a record can itself be used as
// a sub-field editor inside an enclosing record (kIsAlsoValue in the
// original).
func (e *RecordEditor) commit() (bool, error) { return e.Commit() }
func (e *RecordEditor) rollback()              { e.Rollback() }
func (e *RecordEditor) undoCommit()            { e.UndoCommit() }
