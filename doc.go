/*
Package objtree implements a schema-defined, in-memory object graph that is
mirrored on disk as a directory tree of data.json leaves, mutated exclusively
through scoped, transactional editors.

We implement:

1. Values, single scalars with commit/rollback and change callbacks.

2. Records, fixed-schema aggregates of named fields (values, nested records,
or containers).

3. Containers, keyed collections of owned records, plus two derived
variants: Subsets (references into another container) and ConstrainedSets
(owned records whose keys must exist in a sibling container).

4. Editors, scoped handles that grant exclusive mutation rights over a node
and implement two-phase commit with exact rollback.

# Technical details

**Directories.** Persistence is projected through the objtree.Directory
interface (subdir/write_file/read_file/clone), implemented by the backends in
objtree/fsdir. A record or container with an
attached directory keeps its data.json in sync with every successful commit.

**Commit protocol.** Every editor commits bottom-up: sub-editors first, then
the node's own on-change callbacks, then (if a directory is attached) an
atomic data.json replace. Any step failing rewinds exactly the steps that
already succeeded, in reverse order.

**Callback safety.** A do-callback that returns an error, or panics, is
treated the same way: already-applied do-callbacks are undone in reverse and
the failure is reported. An undo-callback must never fail; if one panics,
the panic is deliberately left unrecovered.
*/
package objtree
