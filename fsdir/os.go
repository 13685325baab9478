package fsdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/objectdb-go/objtree"
)

// osDir is a Directory backed directly by the host filesystem, rooted at
// path. WriteFile is made atomic the same way the teacher's tests expect
// durable writes: write to a temp file in the same directory, then rename.
type osDir struct {
	path string
}

// OS opens root as a Directory, creating it if it doesn't exist.
func OS(root string) (objtree.Directory, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &osDir{path: root}, nil
}

func (d *osDir) Subdir(name string, create bool) (objtree.Directory, error) {
	p := filepath.Join(d.path, name)
	if create {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, err
		}
		return &osDir{path: p}, nil
	}
	fi, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, objtree.ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("fsdir: %s is not a directory", p)
	}
	return &osDir{path: p}, nil
}

func (d *osDir) WriteFile(name string, data []byte) error {
	target := filepath.Join(d.path, name)
	tmp, err := os.CreateTemp(d.path, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, target)
}

func (d *osDir) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if os.IsNotExist(err) {
		return nil, objtree.ErrNotExist
	}
	return data, err
}

func (d *osDir) RemoveSubdir(name string) error {
	return os.RemoveAll(filepath.Join(d.path, name))
}

func (d *osDir) Names() ([]string, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (d *osDir) Clone() objtree.Directory {
	return &osDir{path: d.path}
}
