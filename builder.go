package objtree

// Builder wraps a freshly-constructed record or container value and wires
// it into its owning tree: parent back-pointer, then (optionally) an
// attached directory with its initial data.json write. This is the
// Go-idiomatic stand-in for the teacher's reflection-based
// TableBuilder/DefineTable schema builder — a plain chainable struct rather
// than reflection over field tags, per spec §9's explicit ban on
// reproducing that metaprogramming.
//
// Lifecycle per spec §3: nodes are created either by a Builder (this type)
// or by a Load* function; either way they live as long as their owning
// parent.

// editablePtr constrains T so that *T implements editableField — Builder
// needs attachDir, which plain Field doesn't expose.
type editablePtr[T any] interface {
	*T
	editableField
}

type Builder[T any, PT editablePtr[T]] struct {
	value  PT
	dir    Directory
	field  string
	parent any
	built  bool
}

// NewBuilder starts building around an already-initialized value — the
// caller constructs value with its own exported constructor (setting any
// required initial field values), then hands it here for wiring. value is
// held by pointer, not copied: every field a generated record or container
// type registers (Value, nested Base, Container, ...) aliases the same
// memory Build eventually returns.
func NewBuilder[T any, PT editablePtr[T]](value PT) *Builder[T, PT] {
	return &Builder[T, PT]{value: value}
}

// SetDir supplies the directory the built node should attach to. Combine
// with SetField when the node is being attached as a named field of an
// already-attached parent record; omit SetField when the node is itself
// the root of the tree.
func (b *Builder[T, PT]) SetDir(dir Directory) *Builder[T, PT] {
	b.dir = dir
	return b
}

// SetField names the subdirectory the node should occupy under the
// directory given to SetDir.
func (b *Builder[T, PT]) SetField(name string) *Builder[T, PT] {
	b.field = name
	return b
}

// SetParent records the owning parent, retrievable later via the built
// value's own Parent() accessor if it embeds Base.
func (b *Builder[T, PT]) SetParent(parent any) *Builder[T, PT] {
	b.parent = parent
	return b
}

type initable interface{ Init(parent any) }

// Build finalizes construction, performing the initial commit spec §6
// describes: wiring the parent back-pointer, then — if SetDir was called —
// attaching the directory and writing its first data.json. Build may be
// called only once per Builder.
func (b *Builder[T, PT]) Build() (PT, error) {
	if b.built {
		contractViolation(b.field, "builder already built")
	}
	b.built = true

	if b.parent != nil {
		if initer, ok := any(b.value).(initable); ok {
			initer.Init(b.parent)
		}
	}
	if b.dir != nil {
		if err := b.value.attachDir(b.dir, b.field); err != nil {
			return nil, err
		}
	}
	return b.value, nil
}
