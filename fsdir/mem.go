package fsdir

import (
	"sort"
	"sync"

	"github.com/objectdb-go/objtree"
)

// memNode is a directory node: files and child directories, guarded by a
// mutex shared with every handle cloned from the same root, mirroring the
// single shared-mutex-protected map in storage_mem.go's memStorage.
type memNode struct {
	mu       *sync.Mutex
	files    map[string][]byte
	children map[string]*memNode
}

type memDir struct {
	node *memNode
}

// Mem returns a transient in-memory Directory, intended for tests, the same
// role newMemStorage plays in the teacher's test suite.
func Mem() objtree.Directory {
	return &memDir{node: &memNode{
		mu:       &sync.Mutex{},
		files:    make(map[string][]byte),
		children: make(map[string]*memNode),
	}}
}

func (d *memDir) Subdir(name string, create bool) (objtree.Directory, error) {
	d.node.mu.Lock()
	defer d.node.mu.Unlock()
	child, ok := d.node.children[name]
	if !ok {
		if !create {
			return nil, objtree.ErrNotExist
		}
		child = &memNode{
			mu:       d.node.mu,
			files:    make(map[string][]byte),
			children: make(map[string]*memNode),
		}
		d.node.children[name] = child
	}
	return &memDir{node: child}, nil
}

func (d *memDir) WriteFile(name string, data []byte) error {
	d.node.mu.Lock()
	defer d.node.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	d.node.files[name] = cp
	return nil
}

func (d *memDir) ReadFile(name string) ([]byte, error) {
	d.node.mu.Lock()
	defer d.node.mu.Unlock()
	data, ok := d.node.files[name]
	if !ok {
		return nil, objtree.ErrNotExist
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (d *memDir) RemoveSubdir(name string) error {
	d.node.mu.Lock()
	defer d.node.mu.Unlock()
	delete(d.node.children, name)
	return nil
}

func (d *memDir) Names() ([]string, error) {
	d.node.mu.Lock()
	defer d.node.mu.Unlock()
	names := make([]string, 0, len(d.node.children))
	for name := range d.node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *memDir) Clone() objtree.Directory {
	return &memDir{node: d.node}
}
