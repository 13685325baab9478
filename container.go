package objtree

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ContainerElem is what Container[K,V] requires of its element type: the
// editableField capability set every Base-embedding record gets for free by
// promotion, a key accessor, a typed editor (Base.Edit, also promoted), and
// a hook to intercept the key field's own changes so the container can
// rekey in place (container.hpp's "Key_t().ConstGet(*v).OnChange(...)").
type ContainerElem[K comparable] interface {
	editableField
	Key() K
	Edit(autocommit bool) *RecordEditor
	OnKeyChange(do func(old, new K) (bool, error), undo func(old, new K))
}

// Container is a keyed collection of owned records, each projected to its
// own subdirectory named by its stringified key, per spec §4.3/§4.7.
// Grounded on container.hpp's BaseContainer, generalized from a template
// composition to an explicit Go generic type.
type Container[K comparable, V ContainerElem[K]] struct {
	name  string
	skip  bool
	dir   Directory
	codec KeyCodec[K]

	values map[K]V
	edited bool

	onInsert []doUndo[func(V) (bool, error), func(V)]
	onErase  []doUndo[func(V) (bool, error), func(V)]
}

// NewContainer returns an empty Container using codec to format keys for
// directory naming and for ordering the on-disk key list; the list itself is
// marshaled from the keys as K.
func NewContainer[K comparable, V ContainerElem[K]](codec KeyCodec[K]) *Container[K, V] {
	return &Container[K, V]{codec: codec, values: make(map[K]V)}
}

func (c *Container[K, V]) Contains(k K) bool {
	_, ok := c.values[k]
	return ok
}

func (c *Container[K, V]) Get(k K) (V, bool) {
	v, ok := c.values[k]
	return v, ok
}

func (c *Container[K, V]) Size() int { return len(c.values) }

// Each calls f for every (key, value) pair in unspecified order, stopping
// early if f returns false.
func (c *Container[K, V]) Each(f func(K, V) bool) {
	for k, v := range c.values {
		if !f(k, v) {
			return
		}
	}
}

func (c *Container[K, V]) IsEdited() bool { return c.edited }

// OnInsert registers a do/undo pair run whenever a new record is
// successfully inserted via a ContainerEditor's Emplace. LoadContainer does
// not run them. undo may be nil.
func (c *Container[K, V]) OnInsert(do func(V) (bool, error), undo func(V)) {
	if undo == nil {
		undo = func(V) {}
	}
	c.onInsert = append(c.onInsert, doUndo[func(V) (bool, error), func(V)]{do, undo})
}

// OnErase registers a do/undo pair run whenever a record is removed via a
// ContainerEditor's Erase. undo may be nil.
func (c *Container[K, V]) OnErase(do func(V) (bool, error), undo func(V)) {
	if undo == nil {
		undo = func(V) {}
	}
	c.onErase = append(c.onErase, doUndo[func(V) (bool, error), func(V)]{do, undo})
}

// SetSkipSerialize marks the field as omitted from the enclosing record's
// JSON object.
func (c *Container[K, V]) SetSkipSerialize(v bool) { c.skip = v }

func (c *Container[K, V]) Edit(autocommit bool) *ContainerEditor[K, V] {
	if c.edited {
		contractViolation(c.name, "Container already edited")
	}
	c.edited = true
	return &ContainerEditor[K, V]{target: c, autocommit: autocommit}
}

// EditRoot is like Edit, but for the container actually attached to root:
// it brackets the returned editor's lifetime with root's open-edit
// tracking and appends a commit-log snapshot after a successful commit.
func (c *Container[K, V]) EditRoot(root *Root, name string, autocommit bool) *ContainerEditor[K, V] {
	e := c.Edit(autocommit)
	e.rt.start(root, name, c)
	return e
}

// --- editableField ---

func (c *Container[K, V]) FieldName() string   { return c.name }
func (c *Container[K, V]) SkipSerialize() bool { return c.skip }
func (c *Container[K, V]) setName(name string) { c.name = name }

// serializeJSON writes the key list as the wire format declares the key
// type: a string-keyed container writes ["u1","u2"], an int-keyed one
// writes [3,5], per spec §6 ("strings or integers as declared"). Marshaling
// []K directly rather than []string lets encoding/json pick the right
// representation for whatever concrete kind K is.
func (c *Container[K, V]) serializeJSON() (json.RawMessage, error) {
	keys := make([]K, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.codec.Format(keys[i]) < c.codec.Format(keys[j])
	})
	return json.Marshal(keys)
}

func (c *Container[K, V]) openEditor(autocommit bool) FieldEditor { return c.Edit(autocommit) }

func (c *Container[K, V]) attachDir(dir Directory, name string) error {
	if c.dir != nil {
		contractViolation(name, "SetDir called twice")
	}
	sub, err := subdirFor(dir, name)
	if err != nil {
		return err
	}
	c.dir = sub
	for k, v := range c.values {
		vsub, err := c.dir.Subdir(c.codec.Format(k), true)
		if err != nil {
			return err
		}
		if err := v.attachDir(vsub, ""); err != nil {
			return err
		}
	}
	return c.writeData()
}

func (c *Container[K, V]) writeData() error {
	if c.dir == nil {
		return nil
	}
	raw, err := c.serializeJSON()
	if err != nil {
		return err
	}
	return c.dir.WriteFile("data.json", raw)
}

// insert places v under key k: attaches its subdirectory (if this container
// has one), wires the key-change notifier, runs insert callbacks, and rolls
// the map insertion back if any of that fails. Mirrors BaseContainer::Insert.
func (c *Container[K, V]) insert(k K, v V) (bool, error) {
	if _, ok := c.values[k]; ok {
		return false, nil
	}
	if c.dir != nil {
		sub, err := c.dir.Subdir(c.codec.Format(k), true)
		if err != nil {
			return false, err
		}
		if err := v.attachDir(sub, ""); err != nil {
			return false, err
		}
	}
	c.values[k] = v
	c.wireKeyChange(v)

	adapted := make([]doUndo[func(V) (bool, error), func(V)], len(c.onInsert))
	copy(adapted, c.onInsert)
	ok, err := propagateDoUndoSafe(adapted, v)
	if err != nil || !ok {
		delete(c.values, k)
		return false, err
	}
	return true, nil
}

// erase removes k, running erase callbacks; on veto/failure the map entry is
// restored and (zero, false, err) is returned. Mirrors BaseContainer::Erase.
func (c *Container[K, V]) erase(k K) (v V, ok bool, err error) {
	v, present := c.values[k]
	if !present {
		return v, false, nil
	}
	delete(c.values, k)

	adapted := make([]doUndo[func(V) (bool, error), func(V)], len(c.onErase))
	copy(adapted, c.onErase)
	succeeded, e := propagateDoUndoSafe(adapted, v)
	if e != nil || !succeeded {
		c.values[k] = v
		var zero V
		return zero, false, e
	}
	return v, true, nil
}

func (c *Container[K, V]) wireKeyChange(v V) {
	v.OnKeyChange(
		func(old, new K) (bool, error) { return c.changeKey(old, new) },
		func(old, new K) {
			ok, _ := c.changeKey(new, old)
			if !ok {
				panic(fmt.Sprintf("objtree: key-change undo failed for container %q", c.name))
			}
		},
	)
}

func (c *Container[K, V]) changeKey(old, new K) (bool, error) {
	if old == new {
		return true, nil
	}
	if _, ok := c.values[new]; ok {
		return false, nil
	}
	v, ok := c.values[old]
	if !ok {
		return false, nil
	}
	delete(c.values, old)
	c.values[new] = v
	return true, nil
}

// Load reconstructs a Container from dir/name/data.json, resolving each key
// to a subdirectory and handing it to loadElem. Strict per spec §4.7: a
// missing subdirectory, or a loaded record whose own key disagrees with the
// directory name, is a LoadError.
func LoadContainer[K comparable, V ContainerElem[K]](
	dir Directory, name string, codec KeyCodec[K],
	loadElem func(elemDir Directory, k K) (V, error),
) (*Container[K, V], error) {
	c := NewContainer[K, V](codec)
	c.name = name

	sub, err := dir.Subdir(name, false)
	if err != nil {
		return nil, loadErrf(name, err, "missing container subdirectory")
	}
	c.dir = sub

	raw, err := sub.ReadFile("data.json")
	if err != nil {
		return nil, loadErrf(name, err, "reading container data.json")
	}
	var keys []K
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, loadErrf(name, err, "parsing container data.json")
	}

	for _, k := range keys {
		ks := codec.Format(k)
		elemDir, err := sub.Subdir(ks, false)
		if err != nil {
			return nil, loadErrf(name, err, "missing subdirectory for key %q", ks)
		}
		v, err := loadElem(elemDir, k)
		if err != nil {
			return nil, err
		}
		if v.Key() != k {
			return nil, loadErrf(name, nil, "record key %v does not match directory name %q", v.Key(), ks)
		}
		c.values[k] = v
		c.wireKeyChange(v)
	}
	return c, nil
}

// ContainerEditor is the scoped handle returned by Container.Edit. It
// implements the staged commit protocol of spec §4.3: held editors commit
// first, then erases, then inserts, any step's failure unwinding everything
// already done in this commit.
type ContainerEditor[K comparable, V ContainerElem[K]] struct {
	target     *Container[K, V]
	autocommit bool
	finalized  bool
	committed  bool
	rolledBack bool

	editors   map[K]*RecordEditor
	editOrder []K

	extra      map[K]V
	extraOrder []K

	toErase    map[K]struct{}
	eraseOrder []K

	// undo bookkeeping, valid only once committed == true
	committedEditN int
	erased         map[K]V
	insertedKeys   []K

	rt rootTracking
}

func (e *ContainerEditor[K, V]) requireLive() {
	if e.finalized {
		contractViolation(e.target.name, "use of finalized ContainerEditor")
	}
}

// Contains sees the original set minus to_erase plus extra_values.
func (e *ContainerEditor[K, V]) Contains(k K) bool {
	e.requireLive()
	if _, ok := e.toErase[k]; ok {
		return false
	}
	if _, ok := e.extra[k]; ok {
		return true
	}
	return e.target.Contains(k)
}

// Size reflects the staged view.
func (e *ContainerEditor[K, V]) Size() int {
	e.requireLive()
	return e.target.Size() + len(e.extra) - len(e.toErase)
}

// Get opens (or returns the already-open) editor for the existing record at
// k. It panics if k isn't present in the original container; use Emplace
// for records staged in this same edit.
func (e *ContainerEditor[K, V]) Get(k K) *RecordEditor {
	e.requireLive()
	if ed, ok := e.editors[k]; ok {
		return ed
	}
	v, ok := e.target.values[k]
	if !ok {
		contractViolation(e.target.name, "Get of absent key %v", k)
	}
	ed := v.Edit(false)
	if e.editors == nil {
		e.editors = make(map[K]*RecordEditor)
	}
	e.editors[k] = ed
	e.editOrder = append(e.editOrder, k)
	return ed
}

// Emplace stages v for insertion, keyed by v.Key(). It fails if the key is
// already present (staged or original).
func (e *ContainerEditor[K, V]) Emplace(v V) bool {
	e.requireLive()
	k := v.Key()
	if e.Contains(k) {
		return false
	}
	if e.extra == nil {
		e.extra = make(map[K]V)
	}
	e.extra[k] = v
	e.extraOrder = append(e.extraOrder, k)
	return true
}

// Erase stages k for removal, or drops it from staged inserts if it was
// only ever staged. Returns false if k isn't present in the staged view.
func (e *ContainerEditor[K, V]) Erase(k K) bool {
	e.requireLive()
	if !e.Contains(k) {
		return false
	}
	if _, ok := e.extra[k]; ok {
		delete(e.extra, k)
		for i, ek := range e.extraOrder {
			if ek == k {
				e.extraOrder = append(e.extraOrder[:i], e.extraOrder[i+1:]...)
				break
			}
		}
		return true
	}
	if e.toErase == nil {
		e.toErase = make(map[K]struct{})
	}
	e.toErase[k] = struct{}{}
	e.eraseOrder = append(e.eraseOrder, k)
	return true
}

func (e *ContainerEditor[K, V]) undoEditorsFrom(n int) {
	for i := n - 1; i >= 0; i-- {
		runUndoUnsafe(e.editors[e.editOrder[i]].UndoCommit)
	}
}

// Commit runs the four steps of spec §4.3 in order, unwinding everything
// already done in this commit if any step fails.
func (e *ContainerEditor[K, V]) Commit() (bool, error) {
	if e.finalized {
		contractViolation(e.target.name, "double commit")
	}
	e.finalized = true
	e.target.edited = false

	committedN := 0
	for _, k := range e.editOrder {
		ok, err := e.editors[k].Commit()
		if err != nil || !ok {
			e.undoEditorsFrom(committedN)
			e.rt.finish(false)
			return false, err
		}
		committedN++
	}

	erased := make(map[K]V, len(e.eraseOrder))
	erasedN := 0
	for _, k := range e.eraseOrder {
		v, ok, err := e.target.erase(k)
		if err != nil || !ok {
			for i := erasedN - 1; i >= 0; i-- {
				ek := e.eraseOrder[i]
				if _, err := e.target.insert(ek, erased[ek]); err != nil {
					panic(fmt.Sprintf("objtree: failed to undo erase of %v: %v", ek, err))
				}
			}
			e.undoEditorsFrom(committedN)
			e.rt.finish(false)
			return false, err
		}
		erased[k] = v
		erasedN++
	}

	insertedN := 0
	for _, k := range e.extraOrder {
		v := e.extra[k]
		ok, err := e.target.insert(k, v)
		if err != nil || !ok {
			for i := insertedN - 1; i >= 0; i-- {
				ik := e.extraOrder[i]
				if _, ok, _ := e.target.erase(ik); !ok {
					panic(fmt.Sprintf("objtree: failed to undo insert of %v", ik))
				}
			}
			for i := erasedN - 1; i >= 0; i-- {
				ek := e.eraseOrder[i]
				if _, err := e.target.insert(ek, erased[ek]); err != nil {
					panic(fmt.Sprintf("objtree: failed to undo erase of %v: %v", ek, err))
				}
			}
			e.undoEditorsFrom(committedN)
			e.rt.finish(false)
			return false, err
		}
		insertedN++
	}

	if werr := e.target.writeData(); werr != nil {
		for i := insertedN - 1; i >= 0; i-- {
			ik := e.extraOrder[i]
			e.target.erase(ik)
		}
		for i := erasedN - 1; i >= 0; i-- {
			ek := e.eraseOrder[i]
			e.target.insert(ek, erased[ek])
		}
		e.undoEditorsFrom(committedN)
		e.rt.finish(false)
		return false, werr
	}

	e.committedEditN = committedN
	e.erased = erased
	e.insertedKeys = append([]K(nil), e.extraOrder...)
	e.committed = true
	e.rt.finish(true)
	return true, nil
}

// Rollback discards pending staged edits, or reverses a prior successful
// commit.
func (e *ContainerEditor[K, V]) Rollback() {
	if e.rolledBack {
		contractViolation(e.target.name, "rollback called twice")
	}
	e.rolledBack = true
	if e.committed {
		e.applyUndo()
	}
	e.finalized = true
	e.rt.finish(false)
}

// UndoCommit reverses a successful Commit. Valid only once.
func (e *ContainerEditor[K, V]) UndoCommit() {
	if !e.committed {
		contractViolation(e.target.name, "UndoCommit without a prior successful Commit")
	}
	e.applyUndo()
}

func (e *ContainerEditor[K, V]) applyUndo() {
	if !e.committed {
		return
	}
	e.committed = false
	for i := len(e.insertedKeys) - 1; i >= 0; i-- {
		k := e.insertedKeys[i]
		if _, ok, _ := e.target.erase(k); !ok {
			panic(fmt.Sprintf("objtree: undo-commit failed to remove inserted key %v", k))
		}
	}
	for i := len(e.eraseOrder) - 1; i >= 0; i-- {
		k := e.eraseOrder[i]
		if _, err := e.target.insert(k, e.erased[k]); err != nil {
			panic(fmt.Sprintf("objtree: undo-commit failed to restore erased key %v: %v", k, err))
		}
	}
	e.undoEditorsFrom(e.committedEditN)
	runUndoUnsafe(func() {
		if err := e.target.writeData(); err != nil {
			panic(err)
		}
	})
}

func (e *ContainerEditor[K, V]) Close() {
	if !e.finalized && e.autocommit {
		e.Commit()
	}
	e.target.edited = false
	e.rt.finish(false)
}

func (e *ContainerEditor[K, V]) commit() (bool, error) { return e.Commit() }
func (e *ContainerEditor[K, V]) rollback()             { e.Rollback() }
func (e *ContainerEditor[K, V]) undoCommit()           { e.UndoCommit() }
