package objtree

import (
	"encoding/json"
	"sort"
)

// Subset is a keyed set of non-owning references into a sibling Container,
// resolved fresh on every access via resolve — container.hpp's
// "ContainerGetter"/"member<T, sibling_>" collapsed into a plain closure.
// Only the key list is persisted; the referenced records live, and are
// serialized, under the target Container.
type Subset[P any, K comparable, V ContainerElem[K]] struct {
	name string
	skip bool
	dir  Directory

	parent  P
	resolve func(P) *Container[K, V]

	keys   map[K]struct{}
	edited bool
}

// NewSubset returns an empty Subset belonging to parent, whose target
// container is found by calling resolve(parent) at every access.
func NewSubset[P any, K comparable, V ContainerElem[K]](parent P, resolve func(P) *Container[K, V]) *Subset[P, K, V] {
	return &Subset[P, K, V]{parent: parent, resolve: resolve, keys: make(map[K]struct{})}
}

func (s *Subset[P, K, V]) target() *Container[K, V] { return s.resolve(s.parent) }

func (s *Subset[P, K, V]) Contains(k K) bool {
	_, ok := s.keys[k]
	return ok
}

// Get resolves k against the live target container. It returns false if k
// is not (or no longer) present there, even if it's still in this Subset's
// key list — a caller that cares should treat that as a consistency error.
func (s *Subset[P, K, V]) Get(k K) (V, bool) {
	if !s.Contains(k) {
		var zero V
		return zero, false
	}
	return s.target().Get(k)
}

func (s *Subset[P, K, V]) Size() int { return len(s.keys) }

func (s *Subset[P, K, V]) Each(f func(K, V) bool) {
	tgt := s.target()
	for k := range s.keys {
		v, ok := tgt.Get(k)
		if !ok {
			continue
		}
		if !f(k, v) {
			return
		}
	}
}

func (s *Subset[P, K, V]) IsEdited() bool { return s.edited }

func (s *Subset[P, K, V]) SetSkipSerialize(v bool) { s.skip = v }

func (s *Subset[P, K, V]) Edit(autocommit bool) *SubsetEditor[P, K, V] {
	if s.edited {
		contractViolation(s.name, "Subset already edited")
	}
	s.edited = true
	return &SubsetEditor[P, K, V]{target: s, autocommit: autocommit}
}

// EditRoot is like Edit, but for the subset actually attached to root: it
// brackets the returned editor's lifetime with root's open-edit tracking
// and appends a commit-log snapshot after a successful commit.
func (s *Subset[P, K, V]) EditRoot(root *Root, name string, autocommit bool) *SubsetEditor[P, K, V] {
	e := s.Edit(autocommit)
	e.rt.start(root, name, s)
	return e
}

// --- editableField ---

func (s *Subset[P, K, V]) FieldName() string   { return s.name }
func (s *Subset[P, K, V]) SkipSerialize() bool { return s.skip }
func (s *Subset[P, K, V]) setName(name string) { s.name = name }

func (s *Subset[P, K, V]) serializeJSON() (json.RawMessage, error) {
	keys := make([]string, 0, len(s.keys))
	codec := s.target().codec
	for k := range s.keys {
		keys = append(keys, codec.Format(k))
	}
	sort.Strings(keys)
	return json.Marshal(keys)
}

func (s *Subset[P, K, V]) openEditor(autocommit bool) FieldEditor { return s.Edit(autocommit) }

// attachDir attaches only this Subset's own data.json; unlike Container, it
// never creates per-key subdirectories, since it doesn't own the records.
func (s *Subset[P, K, V]) attachDir(dir Directory, name string) error {
	if s.dir != nil {
		contractViolation(name, "SetDir called twice")
	}
	sub, err := subdirFor(dir, name)
	if err != nil {
		return err
	}
	s.dir = sub
	return s.writeData()
}

func (s *Subset[P, K, V]) writeData() error {
	if s.dir == nil {
		return nil
	}
	raw, err := s.serializeJSON()
	if err != nil {
		return err
	}
	return s.dir.WriteFile("data.json", raw)
}

// LoadSubset reconstructs a Subset from dir/name/data.json, re-resolving
// every key against target; an unresolved key is a LoadError, per spec
// §4.4's "failure to resolve is a load error."
func LoadSubset[P any, K comparable, V ContainerElem[K]](
	dir Directory, name string, parent P, resolve func(P) *Container[K, V],
) (*Subset[P, K, V], error) {
	s := NewSubset(parent, resolve)
	s.name = name

	sub, err := dir.Subdir(name, false)
	if err != nil {
		return nil, loadErrf(name, err, "missing subset subdirectory")
	}
	s.dir = sub

	raw, err := sub.ReadFile("data.json")
	if err != nil {
		return nil, loadErrf(name, err, "reading subset data.json")
	}
	var keyStrs []string
	if err := json.Unmarshal(raw, &keyStrs); err != nil {
		return nil, loadErrf(name, err, "parsing subset data.json")
	}

	tgt := resolve(parent)
	for _, ks := range keyStrs {
		k, err := tgt.codec.Parse(ks)
		if err != nil {
			return nil, loadErrf(name, err, "parsing key %q", ks)
		}
		if !tgt.Contains(k) {
			return nil, loadErrf(name, nil, "key %q does not resolve against target container", ks)
		}
		s.keys[k] = struct{}{}
	}
	return s, nil
}

// SubsetEditor is the scoped handle returned by Subset.Edit.
type SubsetEditor[P any, K comparable, V ContainerElem[K]] struct {
	target     *Subset[P, K, V]
	autocommit bool
	finalized  bool
	committed  bool
	rolledBack bool

	extra      map[K]struct{}
	toErase    map[K]struct{}
	addedKeys  []K
	removedKey []K

	rt rootTracking
}

func (e *SubsetEditor[P, K, V]) requireLive() {
	if e.finalized {
		contractViolation(e.target.name, "use of finalized SubsetEditor")
	}
}

func (e *SubsetEditor[P, K, V]) Contains(k K) bool {
	e.requireLive()
	if _, ok := e.toErase[k]; ok {
		return false
	}
	if _, ok := e.extra[k]; ok {
		return true
	}
	return e.target.Contains(k)
}

func (e *SubsetEditor[P, K, V]) Size() int {
	e.requireLive()
	return e.target.Size() + len(e.extra) - len(e.toErase)
}

// Emplace stages k for inclusion. It requires k to be present in the
// target container right now, per spec §4.4.
func (e *SubsetEditor[P, K, V]) Emplace(k K) bool {
	e.requireLive()
	if e.Contains(k) {
		return false
	}
	if !e.target.target().Contains(k) {
		return false
	}
	if e.extra == nil {
		e.extra = make(map[K]struct{})
	}
	e.extra[k] = struct{}{}
	return true
}

func (e *SubsetEditor[P, K, V]) Erase(k K) bool {
	e.requireLive()
	if !e.Contains(k) {
		return false
	}
	if _, ok := e.extra[k]; ok {
		delete(e.extra, k)
		return true
	}
	if e.toErase == nil {
		e.toErase = make(map[K]struct{})
	}
	e.toErase[k] = struct{}{}
	return true
}

func (e *SubsetEditor[P, K, V]) Commit() (bool, error) {
	if e.finalized {
		contractViolation(e.target.name, "double commit")
	}
	e.finalized = true
	e.target.edited = false

	for k := range e.toErase {
		delete(e.target.keys, k)
		e.removedKey = append(e.removedKey, k)
	}
	for k := range e.extra {
		e.target.keys[k] = struct{}{}
		e.addedKeys = append(e.addedKeys, k)
	}

	if werr := e.target.writeData(); werr != nil {
		for _, k := range e.addedKeys {
			delete(e.target.keys, k)
		}
		for _, k := range e.removedKey {
			e.target.keys[k] = struct{}{}
		}
		e.addedKeys = nil
		e.removedKey = nil
		e.rt.finish(false)
		return false, werr
	}

	e.committed = true
	e.rt.finish(true)
	return true, nil
}

func (e *SubsetEditor[P, K, V]) Rollback() {
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

func (e *SubsetEditor[P, K, V]) UndoCommit() {
	if !e.committed {
		contractViolation(e.target.name, "UndoCommit without a prior successful Commit")
	}
	e.applyUndo()
}

func (e *SubsetEditor[P, K, V]) applyUndo() {
	if !e.committed {
		return
	}
	e.committed = false
	for _, k := range e.addedKeys {
		delete(e.target.keys, k)
	}
	for _, k := range e.removedKey {
		e.target.keys[k] = struct{}{}
	}
	runUndoUnsafe(func() {
		if err := e.target.writeData(); err != nil {
			panic(err)
		}
	})
}

func (e *SubsetEditor[P, K, V]) Close() {
	if !e.finalized && e.autocommit {
		e.Commit()
	}
	e.target.edited = false
	e.rt.finish(false)
}

func (e *SubsetEditor[P, K, V]) commit() (bool, error) { return e.Commit() }
func (e *SubsetEditor[P, K, V]) rollback()             { e.Rollback() }
func (e *SubsetEditor[P, K, V]) undoCommit()           { e.UndoCommit() }
