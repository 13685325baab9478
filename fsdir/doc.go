// Package fsdir provides objtree.Directory backends: a plain OS filesystem
// tree, a transient in-memory tree for tests, and a single-file tree backed
// by bbolt's nested buckets. The in-memory and bbolt backends are adapted
// from flat key-value bucket storage (the teacher's storage_mem.go and
// storage_bolt.go, which this module does not carry) to a
// directory/file-of-bytes model.
package fsdir
