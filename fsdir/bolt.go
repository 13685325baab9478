package fsdir

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/objectdb-go/objtree"
)

// boltDir is a Directory rooted in a single bbolt file: every directory is a
// bucket, every file is a key/value pair in that bucket, and every
// subdirectory is a nested bucket, addressed by walking path from the root
// on every call. Grounded on storage_bolt.go's boltStorage/boltBucket, which
// do the same root-bucket/nested-bucket addressing for table rows.
type boltDir struct {
	db   *bbolt.DB
	path []string
}

// rootBucket holds the Directory's own files and subdirectories; bbolt
// transactions can't put key/value pairs directly at the top level, only
// inside a bucket, so every boltDir's path starts here.
const rootBucket = "root"

// Bolt opens (creating if necessary) a bbolt-backed Directory rooted at the
// named file.
func Bolt(path string) (objtree.Directory, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltDir{db: db, path: []string{rootBucket}}, nil
}

func (d *boltDir) walk(tx *bbolt.Tx, create bool) (*bbolt.Bucket, error) {
	var b *bbolt.Bucket
	for i, name := range d.path {
		key := []byte(name)
		if b == nil {
			if create {
				nb, err := tx.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = nb
			} else {
				b = tx.Bucket(key)
			}
		} else {
			if create {
				nb, err := b.CreateBucketIfNotExists(key)
				if err != nil {
					return nil, err
				}
				b = nb
			} else {
				b = b.Bucket(key)
			}
		}
		if b == nil {
			return nil, fmt.Errorf("fsdir: missing bucket at path element %d (%q)", i, name)
		}
	}
	return b, nil
}

func (d *boltDir) Subdir(name string, create bool) (objtree.Directory, error) {
	child := &boltDir{db: d.db, path: append(append([]string(nil), d.path...), name)}
	if create {
		err := d.db.Update(func(tx *bbolt.Tx) error {
			_, err := child.walk(tx, true)
			return err
		})
		if err != nil {
			return nil, err
		}
		return child, nil
	}
	var exists bool
	err := d.db.View(func(tx *bbolt.Tx) error {
		_, err := child.walk(tx, false)
		exists = err == nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, objtree.ErrNotExist
	}
	return child, nil
}

func (d *boltDir) WriteFile(name string, data []byte) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := d.walk(tx, true)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("fsdir: cannot write %q at root of bolt database", name)
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		return b.Put([]byte(name), cp)
	})
}

func (d *boltDir) ReadFile(name string) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		b, err := d.walk(tx, false)
		if err != nil {
			return objtree.ErrNotExist
		}
		if b == nil {
			return objtree.ErrNotExist
		}
		v := b.Get([]byte(name))
		if v == nil {
			return objtree.ErrNotExist
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *boltDir) RemoveSubdir(name string) error {
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := d.walk(tx, false)
		if err != nil {
			return nil
		}
		if b == nil {
			return tx.DeleteBucket([]byte(name))
		}
		err = b.DeleteBucket([]byte(name))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (d *boltDir) Names() ([]string, error) {
	var names []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		b, err := d.walk(tx, false)
		if err != nil {
			return nil
		}
		cursor := func() *bbolt.Cursor {
			if b == nil {
				return tx.Cursor()
			}
			return b.Cursor()
		}()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if v == nil {
				names = append(names, string(k))
			}
		}
		return nil
	})
	return names, err
}

func (d *boltDir) Clone() objtree.Directory {
	return &boltDir{db: d.db, path: append([]string(nil), d.path...)}
}
