package fsdir_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/objectdb-go/objtree"
	"github.com/objectdb-go/objtree/fsdir"
)

// backends exercises the same Directory contract against every fsdir
// implementation, so a bug specific to one backend (e.g. bolt's nested
// bucket walk, or mem's shared-mutex cloning) shows up as a single failing
// subtest rather than requiring three near-duplicate test files.
func backends(t *testing.T) map[string]objtree.Directory {
	t.Helper()
	m := map[string]objtree.Directory{
		"mem": fsdir.Mem(),
	}

	osDir, err := fsdir.OS(t.TempDir())
	if err != nil {
		t.Fatalf("fsdir.OS: %v", err)
	}
	m["os"] = osDir

	boltDir, err := fsdir.Bolt(filepath.Join(t.TempDir(), "test.bolt"))
	if err != nil {
		t.Fatalf("fsdir.Bolt: %v", err)
	}
	m["bolt"] = boltDir

	return m
}

func TestDirectory_writeReadFile(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := dir.WriteFile("data.json", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := dir.ReadFile("data.json")
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != `{"a":1}` {
				t.Fatalf("got %q", got)
			}
		})
	}
}

func TestDirectory_readMissingFileIsErrNotExist(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := dir.ReadFile("nope.json"); err != objtree.ErrNotExist {
				t.Fatalf("got err %v, want ErrNotExist", err)
			}
		})
	}
}

func TestDirectory_subdirCreateAndLookup(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := dir.Subdir("children", false); err != objtree.ErrNotExist {
				t.Fatalf("expected ErrNotExist before creation, got %v", err)
			}
			sub, err := dir.Subdir("children", true)
			if err != nil {
				t.Fatalf("Subdir create: %v", err)
			}
			if err := sub.WriteFile("f", []byte("x")); err != nil {
				t.Fatalf("WriteFile in subdir: %v", err)
			}

			again, err := dir.Subdir("children", false)
			if err != nil {
				t.Fatalf("Subdir lookup: %v", err)
			}
			got, err := again.ReadFile("f")
			if err != nil || string(got) != "x" {
				t.Fatalf("ReadFile from reopened subdir: %v %q", err, got)
			}
		})
	}
}

func TestDirectory_namesListsSubdirectories(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := dir.Subdir("u1", true); err != nil {
				t.Fatal(err)
			}
			if _, err := dir.Subdir("u2", true); err != nil {
				t.Fatal(err)
			}
			names, err := dir.Names()
			if err != nil {
				t.Fatalf("Names: %v", err)
			}
			if len(names) != 2 {
				t.Fatalf("got %v, want 2 entries", names)
			}
		})
	}
}

func TestDirectory_removeSubdirDeletesContents(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sub, err := dir.Subdir("gone", true)
			if err != nil {
				t.Fatal(err)
			}
			if err := sub.WriteFile("f", []byte("x")); err != nil {
				t.Fatal(err)
			}
			if err := dir.RemoveSubdir("gone"); err != nil {
				t.Fatalf("RemoveSubdir: %v", err)
			}
			if _, err := dir.Subdir("gone", false); err != objtree.ErrNotExist {
				t.Fatalf("expected subdir gone, got %v", err)
			}
		})
	}
}

func TestDirectory_removeSubdirOfMissingChildIsNotAnError(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := dir.RemoveSubdir("never-existed"); err != nil {
				t.Fatalf("RemoveSubdir of missing child: %v", err)
			}
		})
	}
}

func TestDirectory_cloneIsIndependentHandle(t *testing.T) {
	for name, dir := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clone := dir.Clone()
			if err := dir.WriteFile("f", []byte("1")); err != nil {
				t.Fatal(err)
			}
			got, err := clone.ReadFile("f")
			if err != nil || string(got) != "1" {
				t.Fatalf("clone should see writes through the original handle: %v %q", err, got)
			}
		})
	}
}

func TestOS_writeFileIsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	d, err := fsdir.OS(dir)
	if err != nil {
		t.Fatalf("fsdir.OS: %v", err)
	}
	if err := d.WriteFile("data.json", []byte("v1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" || e.Name()[0] == '.' {
			t.Fatalf("leftover temp file after WriteFile: %s", e.Name())
		}
	}
}
