// Package commitlog implements an append-only, checksummed audit trail of
// committed root snapshots: every time a top-level record or container
// commits successfully, a SnapshotRecord naming it — sequence number, node
// name, serialized form — may optionally be appended here, independent of
// the data.json files themselves. This is not a durability mechanism and
// objtree never reads it back to reconstruct a root — data.json under the
// attached Directory remains the single source of truth (see
// SPEC_FULL.md's persistence non-goals). It exists purely so a caller can
// answer "what did this look like, and when" after the fact.
//
// WriteRecord/Commit below operate on raw, opaque byte records and are the
// primitive every SnapshotRecord rides on; WriteSnapshot is the entry point
// root.go actually drives.
//
// Features:
//
//  1. Suitable for records of all sizes: each record carries its length as a
//     uvarint. Several records written between two Commit calls form one
//     transaction, closed by a single checksum.
//
//  2. Checksummed: the segment header carries its own checksum, and a Commit
//     that follows new records appends a running checksum of the segment so
//     far. Nothing is
//     fsynced, and records already in a segment are never read back or
//     verified; StartWriting inspects only the header of the last segment.
//
//  3. No rotation: a CommitLog keeps appending to the segment file it opened
//     for its first record until FinishWriting. MaxFileSize is stored but
//     not acted on.
//
// File format:
//
//   - file = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 segmentOrdinal:32 timestamp:32 prevChecksum:64 rootInvariant:64*4 segmentInvariant:64*4 reserved:64*3 checksum:64
//   - record = (size<<1):uvarint timestampDelta:uvarint bytes*
//   - commit = checksum:64, with its lowest bit set
package commitlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible commit log")
	ErrUnsupportedVersion = fmt.Errorf("unsupported commit log version")
	errCorruptedFile      = fmt.Errorf("corrupted commit log segment file")
)

type Options struct {
	Context          context.Context
	FileName         string // e.g. "mydb-*.bin"
	MaxFileSize      int64  // stored only; segments are not rotated by size
	DebugName        string
	Now              func() time.Time
	RootInvariant [32]byte
	SegmentInvariant [32]byte

	Logger  *slog.Logger
	OnLoad  func()
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const IgnorableTimestampDriftSeconds = 10

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 16 * 8

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	RootInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

type recordHeader struct {
	sizeAndFlags uint32
	timestamp    uint32
}

const (
	segFlagAligned uint16 = 1 << 0
)

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

// CommitLog represents a set of AOFs.
type CommitLog struct {
	context          context.Context
	maxFileSize      int64
	fileNamePrefix   string
	fileNameSuffix   string
	debugName        string
	dir              string
	now              func() time.Time
	logger           *slog.Logger
	serialIDs        bool
	aligned          bool
	verbose          bool
	writable         bool
	rootInvariant [32]byte
	segmentInvariant [32]byte

	writeLock sync.Mutex
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	segWriter *segmentWriter
}

func New(dir string, o Options) *CommitLog {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "commitlog"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &CommitLog{
		context:          o.Context,
		maxFileSize:      o.MaxFileSize,
		fileNamePrefix:   prefix,
		fileNameSuffix:   suffix,
		debugName:        o.DebugName,
		dir:              dir,
		now:              o.Now,
		aligned:          false,
		verbose:          o.Verbose,
		rootInvariant: o.RootInvariant,
		segmentInvariant: o.SegmentInvariant,
		logger:           o.Logger,
	}
}

func (j *CommitLog) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *CommitLog) String() string {
	return j.debugName
}

func (j *CommitLog) StartWriting() {
	j.writeLock.Lock()
	if j.writable || j.writeErr != nil {
		j.writeLock.Unlock()
		return
	}
	j.writable = true

	go func() {
		defer j.writeLock.Unlock()
		j.fail(j.prepareToWrite_locked())
	}()
}

func (j *CommitLog) prepareToWrite_locked() error {
	dirf, err := os.Open(j.dir)
	if err != nil {
		return err
	}
	defer dirf.Close()

	ds, err := dirf.Stat()
	if err != nil {
		return err
	}
	if !ds.IsDir() {
		return fmt.Errorf("%v: not a directory", j.debugName)
	}

fileLoop:
	for {
		lastName := j.findLastFile(dirf)

		if lastName == "" {
			return nil
		}

		seq, _, _, err := parseSegmentName(lastName)
		if err != nil {
			return err
		}

		f, err := j.openFile(lastName, true)
		if err != nil {
			return err
		}

		stat, err := f.Stat()
		if err != nil {
			return err
		}

		var h segmentHeader
		err = j.readHeader(f, &h, seq)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "commitlog: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int64("size", stat.Size()))
			err := os.Remove(lastName)
			if err != nil {
				return fmt.Errorf("commitlog: failed to delete corrupted file: %w", err)
			}
			continue fileLoop
		} else if err != nil {
			return err
		}
		j.writeSeg = h.SegmentOrdinal

		// TODO: read to end of file

		return nil
	}
}

func (j *CommitLog) FinishWriting() {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	j.finishWriting_locked()
}

func (j *CommitLog) finishWriting_locked() {
	j.writable = false
	if j.segWriter != nil {
		j.segWriter.close()
		j.segWriter = nil
	}
}

func (j *CommitLog) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(j.context, slog.LevelError, "commitlog: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.finishWriting_locked()

	if j.writeErr != nil {
		j.writeErr = err
	}
	return err
}

func (j *CommitLog) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE, 0o666)
	} else {
		return os.Open(fn)
	}
}

func (j *CommitLog) findLastFile(dirf fs.ReadDirFile) string {
	var lastName string
	for {
		if err := j.context.Err(); err != nil {
			break
		}

		ents, err := dirf.ReadDir(16)
		if err == io.EOF {
			break
		}
		for _, ent := range ents {
			if !ent.Type().IsRegular() {
				continue
			}
			name := ent.Name()
			if !strings.HasPrefix(name, j.fileNamePrefix) {
				continue
			}
			if !strings.HasSuffix(name, j.fileNameSuffix) {
				continue
			}
			if name > lastName {
				lastName = name
			}
		}
	}
	return lastName
}

func (j *CommitLog) WriteRecord(timestamp uint32, data []byte) error {
	if !j.writable {
		panic("commit log is opened as read-only")
	}
	if len(data) == 0 {
		return nil
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		j.writeSeg++

		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
	}

	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

func (j *CommitLog) Commit() error {
	if j.segWriter == nil {
		return nil
	}
	return j.fail(j.segWriter.commit())
}

// SnapshotRecord is one commit-log entry produced by a Root commit: the
// editor's registered node name, the root's monotonic sequence number for
// that node, and the node's serialized form. Framing a SnapshotRecord
// explicitly, rather than handing WriteRecord an opaque blob, means a
// later reader never has to know anything about objtree beyond this
// package to tell what was written and in what order.
type SnapshotRecord struct {
	Seq  uint64
	Node string
	Data []byte
}

const snapshotHeaderLen = 8 + 2 // Seq + len(Node)

func encodeSnapshotRecord(rec SnapshotRecord) []byte {
	buf := make([]byte, 0, snapshotHeaderLen+len(rec.Node)+len(rec.Data))
	buf = binary.LittleEndian.AppendUint64(buf, rec.Seq)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(rec.Node)))
	buf = append(buf, rec.Node...)
	buf = append(buf, rec.Data...)
	return buf
}

// DecodeSnapshot reverses the framing WriteSnapshot applies. objtree itself
// never calls this — it's exported for a caller inspecting the log after
// the fact.
func DecodeSnapshot(data []byte) (SnapshotRecord, error) {
	if len(data) < snapshotHeaderLen {
		return SnapshotRecord{}, fmt.Errorf("commitlog: snapshot record too short (%d bytes)", len(data))
	}
	seq := binary.LittleEndian.Uint64(data)
	nameLen := int(binary.LittleEndian.Uint16(data[8:]))
	data = data[snapshotHeaderLen:]
	if len(data) < nameLen {
		return SnapshotRecord{}, fmt.Errorf("commitlog: snapshot record truncated node name")
	}
	node := string(data[:nameLen])
	body := append([]byte(nil), data[nameLen:]...)
	return SnapshotRecord{Seq: seq, Node: node, Data: body}, nil
}

// WriteSnapshot frames rec and appends it as one record via WriteRecord.
// Combine several snapshots under one Commit to group them as one
// all-or-nothing batch, the same as raw WriteRecord calls.
func (j *CommitLog) WriteSnapshot(rec SnapshotRecord) error {
	return j.WriteRecord(0, encodeSnapshotRecord(rec))
}

func (j *CommitLog) readHeader(f *os.File, h *segmentHeader, expectedSeq uint32) error {
	var buf [segmentHeaderSize]byte
	_, err := io.ReadFull(f, buf[:])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return errCorruptedFile
	} else if err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf[:]), binary.LittleEndian, h); err != nil {
		panic(err)
	}

	checksum := xxhash.Sum64(buf[:segmentHeaderSize-8])
	if checksum != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.RootInvariant != j.rootInvariant {
		return ErrIncompatible
	}
	if ((h.Flags & segFlagAligned) != 0) != j.aligned {
		return ErrIncompatible
	}

	return nil
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *CommitLog, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	_, err := sw.f.Write(h)
	if err != nil {
		return err
	}

	sw.hash.Write(data)
	_, err = sw.f.Write(data)
	if err != nil {
		return err
	}

	return nil
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sw.hash.Sum64())
	buf[0] |= recordFlagCommit

	sw.hash.Write(buf[:])
	_, err := sw.f.Write(buf[:])
	if err != nil {
		return err
	}

	return nil
}

func (sw *segmentWriter) close() {
	if sw.f == nil {
		return
	}
	sw.f.Close()
	sw.f = nil
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *CommitLog, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		PrevChecksum:     0,
		RootInvariant: j.rootInvariant,
		SegmentInvariant: j.segmentInvariant,
	}
	if j.aligned {
		h.Flags |= segFlagAligned
	}

	var bw bytes.Buffer
	if err := binary.Write(&bw, binary.LittleEndian, h); err != nil {
		panic(err)
	}
	if bw.Len() != len(buf) {
		panic("internal size mismatch")
	}
	copy(buf, bw.Bytes())

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
