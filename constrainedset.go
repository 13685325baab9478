package objtree

// siblingContainer is what ConstrainedSet needs from the sibling it
// validates against: presence testing for Emplace, and the record lookup
// spec §4.5's sibling(k) operation performs — Container[SK,VT] satisfies
// this for free.
type siblingContainer[SK comparable, VT any] interface {
	Contains(SK) bool
	Get(SK) (VT, bool)
}

// ConstrainedSet is a Container whose records may only be inserted while a
// derived key of theirs is present in a sibling container, re-checked live
// on every Emplace rather than cached — container.hpp's foreign-key style
// constraint collapsed into a closure instead of a second template
// parameter pack. It embeds *Container[K,V] for storage, key serialization
// and the commit protocol itself; the only thing layered on top is the
// sibling precondition and the sibling(k) lookup spec §4.5 names.
type ConstrainedSet[P any, K comparable, V ContainerElem[K], SK comparable, VT any] struct {
	*Container[K, V]

	parent         P
	siblingKey     func(V) SK
	resolveSibling func(P) siblingContainer[SK, VT]
}

// NewConstrainedSet returns an empty ConstrainedSet belonging to parent.
// siblingKey derives the foreign key from a candidate record; resolveSibling
// finds the container that key must be present in, resolved fresh at every
// Emplace.
func NewConstrainedSet[P any, K comparable, V ContainerElem[K], SK comparable, VT any](
	parent P, codec KeyCodec[K], siblingKey func(V) SK, resolveSibling func(P) siblingContainer[SK, VT],
) *ConstrainedSet[P, K, V, SK, VT] {
	return &ConstrainedSet[P, K, V, SK, VT]{
		Container:      NewContainer[K, V](codec),
		parent:         parent,
		siblingKey:     siblingKey,
		resolveSibling: resolveSibling,
	}
}

// siblingContainer resolves the sibling container this set is constrained
// against, live, never cached.
func (c *ConstrainedSet[P, K, V, SK, VT]) siblingContainer() siblingContainer[SK, VT] {
	return c.resolveSibling(c.parent)
}

// Sibling resolves, live, the sibling record that foreign key k currently
// points at — spec §4.5's sibling(k) → &V_target. ok is false if k isn't
// (or is no longer) present in the sibling container.
func (c *ConstrainedSet[P, K, V, SK, VT]) Sibling(k SK) (VT, bool) {
	return c.siblingContainer().Get(k)
}

// Edit shadows the promoted Container.Edit: it returns a
// ConstrainedSetEditor, whose Emplace enforces the sibling precondition that
// a plain ContainerEditor knows nothing about.
func (c *ConstrainedSet[P, K, V, SK, VT]) Edit(autocommit bool) *ConstrainedSetEditor[P, K, V, SK, VT] {
	return &ConstrainedSetEditor[P, K, V, SK, VT]{
		ContainerEditor: c.Container.Edit(autocommit),
		set:             c,
	}
}

// EditRoot is like Edit, but for the set actually attached to root: it
// brackets the returned editor's lifetime with root's open-edit tracking
// and appends a commit-log snapshot after a successful commit.
func (c *ConstrainedSet[P, K, V, SK, VT]) EditRoot(root *Root, name string, autocommit bool) *ConstrainedSetEditor[P, K, V, SK, VT] {
	e := c.Edit(autocommit)
	e.rt.start(root, name, c)
	return e
}

func (c *ConstrainedSet[P, K, V, SK, VT]) openEditor(autocommit bool) FieldEditor {
	return c.Edit(autocommit)
}

// LoadConstrainedSet reconstructs a ConstrainedSet from dir/name/data.json,
// via the same LoadContainer used for a plain Container. Unlike Emplace,
// this does not check the sibling constraint: a record already on disk is
// trusted, the same way LoadContainer never runs insert callbacks.
func LoadConstrainedSet[P any, K comparable, V ContainerElem[K], SK comparable, VT any](
	dir Directory, name string, parent P, codec KeyCodec[K],
	siblingKey func(V) SK, resolveSibling func(P) siblingContainer[SK, VT],
	loadElem func(elemDir Directory, k K) (V, error),
) (*ConstrainedSet[P, K, V, SK, VT], error) {
	container, err := LoadContainer[K, V](dir, name, codec, loadElem)
	if err != nil {
		return nil, err
	}
	return &ConstrainedSet[P, K, V, SK, VT]{
		Container:      container,
		parent:         parent,
		siblingKey:     siblingKey,
		resolveSibling: resolveSibling,
	}, nil
}

// ConstrainedSetEditor is the scoped handle returned by ConstrainedSet.Edit.
// It embeds *ContainerEditor[K,V] for the whole staged four-step commit
// protocol (held editors → erase → insert → write) and overrides only
// Emplace, to add the sibling-presence check a plain ContainerEditor doesn't
// know about.
type ConstrainedSetEditor[P any, K comparable, V ContainerElem[K], SK comparable, VT any] struct {
	*ContainerEditor[K, V]
	set *ConstrainedSet[P, K, V, SK, VT]
}

// Emplace stages v for insertion. It fails if v's key is already present, or
// if v's derived sibling key is not currently present in the sibling
// container.
func (e *ConstrainedSetEditor[P, K, V, SK, VT]) Emplace(v V) bool {
	if !e.set.siblingContainer().Contains(e.set.siblingKey(v)) {
		return false
	}
	return e.ContainerEditor.Emplace(v)
}
