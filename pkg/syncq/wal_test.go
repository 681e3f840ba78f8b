package syncq

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestWAL(t *testing.T, dir string, maxSize int64) *FileWAL {
	t.Helper()
	w, err := NewWAL(WALOptions{Dir: dir, MaxFileSize: maxSize})
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	return w
}

func TestWALAppendRecover(t *testing.T) {
	dir := t.TempDir()
	w := newTestWAL(t, dir, 1<<20)

	var offsets []int64
	for _, s := range []string{"one", "two", "three"} {
		off, err := w.Append([]byte(s))
		if err != nil {
			t.Fatalf("append %q: %v", s, err)
		}
		offsets = append(offsets, off)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopen and recover
	w2 := newTestWAL(t, dir, 1<<20)
	defer w2.Close()
	recs, err := w2.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if recs[i].Offset != offsets[i] {
			t.Fatalf("record %d offset %d, want %d", i, recs[i].Offset, offsets[i])
		}
		if string(recs[i].Data) != want {
			t.Fatalf("record %d data %q, want %q", i, recs[i].Data, want)
		}
	}

	// new appends continue after the recovered sequence
	off, err := w2.Append([]byte("four"))
	if err != nil {
		t.Fatalf("append after recover: %v", err)
	}
	if off <= offsets[2] {
		t.Fatalf("offset %d must advance past %d", off, offsets[2])
	}
}

func TestWALRotationAndTruncate(t *testing.T) {
	dir := t.TempDir()
	// tiny max size forces a rotation per record
	w := newTestWAL(t, dir, 64)
	defer w.Close()

	payload := bytes.Repeat([]byte("x"), 40)
	var last int64
	for i := 0; i < 4; i++ {
		off, err := w.Append(payload)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		last = off
	}

	entries, _ := os.ReadDir(dir)
	before := len(entries)
	if before < 2 {
		t.Fatalf("expected rotation to produce multiple files, got %d", before)
	}

	// ack everything up to (but not including) the last record
	if err := w.TruncateBefore(last); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	entries, _ = os.ReadDir(dir)
	if len(entries) >= before {
		t.Fatalf("expected files pruned: before=%d after=%d", before, len(entries))
	}

	recs, err := w.Recover()
	if err != nil {
		t.Fatalf("recover after truncate: %v", err)
	}
	found := false
	for _, r := range recs {
		if r.Offset == last {
			found = true
		}
		if r.Offset < last {
			t.Fatalf("record %d should have been pruned", r.Offset)
		}
	}
	if !found {
		t.Fatalf("last record %d missing after truncate", last)
	}
}

func TestWALTornTailTruncated(t *testing.T) {
	dir := t.TempDir()
	w := newTestWAL(t, dir, 1<<20)
	if _, err := w.Append([]byte("intact")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// simulate a crash mid-append: garbage after the last full record
	path := filepath.Join(dir, "000000.wal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	w2 := newTestWAL(t, dir, 1<<20)
	defer w2.Close()
	recs, err := w2.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(recs) != 1 || string(recs[0].Data) != "intact" {
		t.Fatalf("expected the intact record only, got %d records", len(recs))
	}
}

func TestEncodeDecodeOp(t *testing.T) {
	op := &Op{Kind: KindUploadMessage, ChatID: "c1", ID: "m1", Payload: []byte(`{"id":"m1"}`), TS: 42}
	data, err := EncodeOp(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeOp(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != op.Kind || out.ChatID != op.ChatID || out.ID != op.ID || out.TS != op.TS {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
	if !bytes.Equal(out.Payload, op.Payload) {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}

	if _, err := DecodeOp([]byte("{not json")); err == nil {
		t.Fatalf("expected error for invalid journal data")
	}
}
