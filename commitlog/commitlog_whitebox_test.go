package commitlog

import (
	"testing"
)

func TestParseName(t *testing.T) {
	seq, ts, id, err := parseSegmentName("123-20230101T000000-11223344aabbccdd")
	if err != nil {
		t.Fatal(err)
	}
	if e := uint32(123); seq != e {
		t.Errorf("seq = %v, expected %v", seq, e)
	}
	if e := uint32(1672531200); ts != e {
		t.Errorf("ts = %v, expected %v", ts, e)
	}
	if e := uint64(0x11223344_aabbccdd); id != e {
		t.Errorf("id = %x, expected %x", id, e)
	}
}

func TestFormatName(t *testing.T) {
	name := formatSegmentName("x", "y", 123, 1672531200, 0x11223344_aabbccdd)
	exp := "x000000000123-20230101T000000-11223344aabbccddy"
	if name != exp {
		t.Errorf("name = %q, expected %q", name, exp)
	}
}

func TestSnapshotRecord_roundTrips(t *testing.T) {
	want := SnapshotRecord{Seq: 42, Node: "accounts", Data: []byte(`{"id":"u1"}`)}
	got, err := DecodeSnapshot(encodeSnapshotRecord(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != want.Seq || got.Node != want.Node || string(got.Data) != string(want.Data) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestSnapshotRecord_emptyNodeAndData(t *testing.T) {
	got, err := DecodeSnapshot(encodeSnapshotRecord(SnapshotRecord{Seq: 1}))
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != 1 || got.Node != "" || len(got.Data) != 0 {
		t.Errorf("got %+v, want zero node/data with seq 1", got)
	}
}

func TestDecodeSnapshot_tooShort(t *testing.T) {
	if _, err := DecodeSnapshot([]byte("short")); err == nil {
		t.Fatal("expected an error decoding a too-short snapshot record")
	}
}
