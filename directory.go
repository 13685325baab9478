package objtree

import "errors"

// ErrNotExist is returned by Directory.ReadFile and Directory.Subdir(name,
// false) when the named entry does not exist.
var ErrNotExist = errors.New("objtree: file or directory does not exist")

// Directory is the filesystem abstraction records and containers attach to
// for persistence (spec §1's "external collaborator #3"). Implementations
// live in objtree/fsdir; Base and Container depend only on this interface, the
// same way the teacher's storageTx/storageBucket keep db.go independent of
// bbolt.
type Directory interface {
	// Subdir returns the named child directory. If create is false and the
	// child doesn't exist, it returns ErrNotExist. If create is true, the
	// child is created if missing.
	Subdir(name string, create bool) (Directory, error)

	// WriteFile atomically replaces the named file's contents.
	WriteFile(name string, data []byte) error

	// ReadFile returns the named file's contents, or ErrNotExist if missing.
	ReadFile(name string) ([]byte, error)

	// RemoveSubdir removes the named child directory and everything under
	// it. Removing a non-existent child is not an error.
	RemoveSubdir(name string) error

	// Names lists the immediate child directory names. LoadContainer does
	// not use it: it takes the key list from the container's data.json.
	Names() ([]string, error)

	// Clone returns a handle to the same directory, independent of the
	// receiver's lifetime (spec's "clone()" collaborator operation).
	Clone() Directory
}
