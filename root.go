package objtree

import (
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/objectdb-go/objtree/commitlog"
	"github.com/vmihailenco/msgpack/v5"
)

// trackEdits mirrors the teacher's trackTxns constant: kept on permanently
// since the bookkeeping cost is negligible next to the I/O an editor's
// Commit already does.
const trackEdits = true

// Root owns the on-disk directory tree a top-level record or container is
// attached to, plus the ambient logging and diagnostics the teacher's DB
// provides. It replaces db.go's bbolt-backed DB: there is no single
// database-wide transaction here, since every record and container commits
// independently, but the need to see what's been left open mid-edit is the
// same.
type Root struct {
	dir     Directory
	logf    func(format string, args ...any)
	verbose bool

	// mu is not used internally; it exists so a caller can serialize a
	// batch of edits across several records/containers sharing this Root,
	// per the concurrency note in SPEC_FULL.md (§5 open question: objtree
	// itself is not safe for concurrent editors on the same node, and
	// takes no position on cross-node coordination beyond offering this).
	mu sync.Mutex

	editsLock sync.Mutex
	edits     []*openEdit

	log    *commitlog.CommitLog
	logSeq atomic.Uint64
}

// Options configures a Root, mirroring the teacher's db.Options.
type Options struct {
	Logf    func(format string, args ...any)
	Verbose bool
}

type openEdit struct {
	node      string
	startTime time.Time
	stack     string
}

// Open returns a Root rooted at dir. Unlike the teacher's db.Open, this
// never touches disk itself — callers attach the top-level record or
// container with AttachDir/Edit once they've constructed it.
func Open(dir Directory, opt Options) *Root {
	return &Root{dir: dir, logf: opt.Logf, verbose: opt.Verbose}
}

func (r *Root) Directory() Directory { return r.dir }

// EnableCommitLog opens (or creates) a commit log under logDir and starts
// accepting snapshots via LogSnapshot. The commit log is an optional audit
// trail, not a durability mechanism: objtree never reads it back.
func (r *Root) EnableCommitLog(logDir string, opt commitlog.Options) {
	r.log = commitlog.New(logDir, opt)
	r.log.StartWriting()
}

// snapshotEnvelope wraps a committed root snapshot for the commit log. Its
// own encoding is msgpack rather than the JSON data.json uses: the commit
// log is an internal audit trail with no external JSON contract to honor,
// so it follows the teacher's own choice of wire format for stored records.
type snapshotEnvelope struct {
	JSON []byte `msgpack:"j"`
}

// LogSnapshot appends a committed node's serialized form to the commit log
// as a commitlog.SnapshotRecord, if a commit log is enabled; it is a no-op
// otherwise. node is the editor's registered name (app, accounts, ...); data
// is the node's JSON serialization, carried as a field inside a msgpack
// envelope rather than written raw, leaving room to add fields to the
// envelope later without breaking older readers. Each call gets the next
// value from the Root's own monotonic sequence counter, so a log reader can
// tell commit order even across nodes and files. Editors opened with
// EditRoot call this automatically after a successful commit; it's exported
// for callers driving a commit some other way.
func (r *Root) LogSnapshot(node string, data []byte) error {
	if r.log == nil {
		return nil
	}
	enc, err := msgpack.Marshal(&snapshotEnvelope{JSON: data})
	if err != nil {
		return err
	}
	rec := commitlog.SnapshotRecord{Seq: r.logSeq.Add(1), Node: node, Data: enc}
	if err := r.log.WriteSnapshot(rec); err != nil {
		return err
	}
	return r.log.Commit()
}

// logSnapshot serializes target and appends it under name via LogSnapshot;
// a no-op if no commit log is enabled.
func (r *Root) logSnapshot(name string, target Field) error {
	if r.log == nil {
		return nil
	}
	data, err := target.serializeJSON()
	if err != nil {
		return err
	}
	return r.LogSnapshot(name, data)
}

// CloseCommitLog stops accepting commit-log writes, if one is enabled.
func (r *Root) CloseCommitLog() {
	if r.log != nil {
		r.log.FinishWriting()
		r.log = nil
	}
}

func (r *Root) Lock()   { r.mu.Lock() }
func (r *Root) Unlock() { r.mu.Unlock() }

func (r *Root) logging(format string, args ...any) {
	if r.logf != nil {
		r.logf(format, args...)
	}
}

// TrackEdit records that an editor for the named node (typically a
// generated record or container's type name) has been opened, for
// DescribeOpenEdits to report later if it's never closed. The returned func
// must be called when the editor is finalized (committed, rolled back, or
// closed). EditRoot calls this for you; reach for it directly only when
// wrapping an editor type the generated schema doesn't already cover.
func (r *Root) TrackEdit(node string) (done func()) {
	if !trackEdits {
		return func() {}
	}
	e := &openEdit{node: node, startTime: time.Now(), stack: string(debug.Stack())}
	r.editsLock.Lock()
	r.edits = append(r.edits, e)
	r.editsLock.Unlock()
	if r.verbose {
		r.logging("objtree: opened editor for %s", node)
	}
	return func() { r.untrack(e) }
}

func (r *Root) untrack(e *openEdit) {
	r.editsLock.Lock()
	defer r.editsLock.Unlock()
	for i, x := range r.edits {
		if x == e {
			n := len(r.edits)
			r.edits[i] = r.edits[n-1]
			r.edits[n-1] = nil
			r.edits = r.edits[:n-1]
			return
		}
	}
}

// DescribeOpenEdits reports every editor opened via TrackEdit that hasn't
// finished yet, including the stack at which it was opened once it's been
// outstanding for a while — the same diagnostic db.go's DescribeOpenTxns
// gives for stuck bbolt transactions.
func (r *Root) DescribeOpenEdits() string {
	if !trackEdits {
		return "OPEN EDIT TRACKING DISABLED"
	}

	r.editsLock.Lock()
	edits := slices.Clone(r.edits)
	r.editsLock.Unlock()

	if len(edits) == 0 {
		return "NO OPEN EDITORS"
	}

	slices.SortFunc(edits, func(a, b *openEdit) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN EDITORS:\n", len(edits))
	for _, e := range edits {
		ms := now.Sub(e.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms\n", e.node, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms:\n%s", e.node, ms, e.stack)
		}
	}

	return buf.String()
}

// rootTracking brackets a top-level editor's lifetime with its owning
// Root's open-edit diagnostics and commit-log snapshot, the way db.go's
// addTx/removeTx bracket each *Tx. It's embedded zero-valued in every
// generated editor type; only an editor opened via EditRoot — the node
// actually attached to a Root — ever has start called on it, so a nested
// field's editor carries a no-op rootTracking.
type rootTracking struct {
	root   *Root
	name   string
	target Field
	done   func()
}

func (rt *rootTracking) start(root *Root, name string, target Field) {
	rt.root = root
	rt.name = name
	rt.target = target
	rt.done = root.TrackEdit(name)
}

// finish is idempotent: only the first call after start does anything, so
// Commit, Rollback and Close can all call it unconditionally at every exit
// point without double-untracking or double-logging a snapshot.
func (rt *rootTracking) finish(committed bool) {
	if rt.done == nil {
		return
	}
	done := rt.done
	rt.done = nil
	done()
	if committed {
		if err := rt.root.logSnapshot(rt.name, rt.target); err != nil {
			rt.root.logging("objtree: commit log snapshot failed for %s: %v", rt.name, err)
		}
	}
}
