package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestJournalChannelWriteFlushReopen(t *testing.T) {
	dir := t.TempDir()
	jc, err := OpenJournalChannel(dir, 1, 4096, 256, V5)
	if err != nil {
		t.Fatalf("OpenJournalChannel: %v", err)
	}

	payload := []byte("first record")
	frame := encodeFrame(payload)
	if err := jc.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := jc.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := jc.ForceWrite(false); err != nil {
		t.Fatalf("ForceWrite: %v", err)
	}
	posAfterFirst := jc.Position()
	if posAfterFirst != int64(headerLen+len(frame)) {
		t.Fatalf("expected position %d, got %d", headerLen+len(frame), posAfterFirst)
	}
	if err := jc.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// double close must be a no-op
	if err := jc.Close(true); err != nil {
		t.Fatalf("second Close should be idempotent: %v", err)
	}

	// Reopening must see the same logical position, not the pre-allocated length.
	jc2, err := OpenJournalChannel(dir, 1, 4096, 256, V5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer jc2.Close(false)
	if jc2.Position() != posAfterFirst {
		t.Fatalf("reopened position mismatch: want %d, got %d", posAfterFirst, jc2.Position())
	}
}

func TestJournalChannelPreallocExtendsOncePastRegion(t *testing.T) {
	dir := t.TempDir()
	const prealloc = int64(64)
	jc, err := OpenJournalChannel(dir, 2, prealloc, 128, V5)
	if err != nil {
		t.Fatalf("OpenJournalChannel: %v", err)
	}
	defer jc.Close(false)

	// Ask for more than the first prealloc step to confirm it extends by
	// additional whole steps rather than failing or under-allocating.
	if err := jc.PreAllocIfNeeded(prealloc * 3); err != nil {
		t.Fatalf("PreAllocIfNeeded: %v", err)
	}
	if jc.preallocatedTo < jc.pos+prealloc*3 {
		t.Fatalf("expected preallocated region to cover requested bytes: preallocatedTo=%d pos=%d", jc.preallocatedTo, jc.pos)
	}
}

func TestJournalChannelHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	jc, err := OpenJournalChannel(dir, 3, 4096, 256, V4)
	if err != nil {
		t.Fatalf("OpenJournalChannel: %v", err)
	}
	jc.Close(false)

	path := filepath.Join(dir, journalFileName(3))
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.HasPrefix(b, headerMagic[:]) {
		t.Fatalf("expected file to start with journal magic, got % x", b[:4])
	}
	v, err := parseHeader(b[:headerLen])
	if err != nil {
		t.Fatalf("parseHeader: %v", err)
	}
	if v != V4 {
		t.Fatalf("expected stored format version V4, got %d", v)
	}
}

func TestJournalChannelLargeWriteExceedingBuffer(t *testing.T) {
	dir := t.TempDir()
	jc, err := OpenJournalChannel(dir, 4, 1<<20, 64 /* tiny buffer */, V5)
	if err != nil {
		t.Fatalf("OpenJournalChannel: %v", err)
	}
	defer jc.Close(false)

	payload := bytes.Repeat([]byte{0xAB}, 10_000) // far larger than the 64-byte buffer
	frame := encodeFrame(payload)
	if err := jc.PreAllocIfNeeded(int64(len(frame))); err != nil {
		t.Fatalf("PreAllocIfNeeded: %v", err)
	}
	if err := jc.Write(frame); err != nil {
		t.Fatalf("Write large payload: %v", err)
	}
	if err := jc.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if jc.Position() != int64(headerLen+len(frame)) {
		t.Fatalf("position mismatch after large write: got %d", jc.Position())
	}
}
