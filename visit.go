package objtree

import "fmt"

// visitable is implemented by every field that can route a single path
// segment to a child field: a record (by field name), and a Container,
// Subset or ConstrainedSet (by a ":"-prefixed key token). Value has no
// children and does not implement it.
type visitable interface {
	visitChild(token string) (Field, error)
}

// containerKeyToken formats k the way Visit expects a container's path
// segment to look: a literal ":" followed by the key's string form.
func containerKeyToken[K comparable](codec KeyCodec[K], k K) string {
	return ":" + codec.Format(k)
}

func parseContainerKeyToken[K comparable](codec KeyCodec[K], token string) (K, error) {
	var zero K
	if len(token) == 0 || token[0] != ':' {
		return zero, fmt.Errorf("objtree: path segment %q is not a container key (want \":key\")", token)
	}
	return codec.Parse(token[1:])
}

func (b *Base) visitChild(token string) (Field, error) {
	for _, s := range b.fieldsOK {
		if s.name == token {
			return s.field, nil
		}
	}
	return nil, fmt.Errorf("objtree: no field named %q", token)
}

func (c *Container[K, V]) visitChild(token string) (Field, error) {
	k, err := parseContainerKeyToken(c.codec, token)
	if err != nil {
		return nil, err
	}
	v, ok := c.Get(k)
	if !ok {
		return nil, fmt.Errorf("objtree: container %q has no element %q", c.name, token)
	}
	return v, nil
}

func (s *Subset[P, K, V]) visitChild(token string) (Field, error) {
	k, err := parseContainerKeyToken(s.target().codec, token)
	if err != nil {
		return nil, err
	}
	v, ok := s.Get(k)
	if !ok {
		return nil, fmt.Errorf("objtree: subset %q has no element %q", s.name, token)
	}
	return v, nil
}

// ConstrainedSet has no visitChild of its own: it embeds *Container[K,V],
// whose visitChild is promoted and satisfies visitable directly.

// Visit walks root along path one segment at a time: a segment against a
// record resolves a registered field by name; a segment against a
// Container/Subset/ConstrainedSet must be a ":"-prefixed key, parsed with
// that field's own KeyCodec. register, if non-nil, is called with every
// node visited (root first, then each field reached, in order); returning
// false from it stops the walk early and Visit returns the last field
// reached with a nil error. A path segment that can't be resolved, or a
// segment against a field with no children (e.g. a Value), is an error.
func Visit(root Field, path []string, register func(Field) bool) (Field, error) {
	cur := root
	if register != nil && !register(cur) {
		return cur, nil
	}
	for depth, token := range path {
		vc, ok := cur.(visitable)
		if !ok {
			return nil, fmt.Errorf("objtree: %q has no children, can't resolve %q (depth %d)", cur.FieldName(), token, depth)
		}
		next, err := vc.visitChild(token)
		if err != nil {
			return nil, err
		}
		cur = next
		if register != nil && !register(cur) {
			return cur, nil
		}
	}
	return cur, nil
}
