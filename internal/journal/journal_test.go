package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig(dir string) Config {
	cfg := DefaultConfig
	cfg.JournalDir = dir
	cfg.MaxGroupWaitNanos = int64(2 * time.Millisecond)
	cfg.FlushWhenQueueEmpty = true
	return cfg
}

func waitForCallback(t *testing.T, ch <-chan int, within time.Duration) int {
	t.Helper()
	select {
	case rc := <-ch:
		return rc
	case <-time.After(within):
		t.Fatal("callback never fired")
		return -1
	}
}

// TestLogAddSingleEntryFlushesPromptly covers scenario #1 of spec §8: with
// flush_when_queue_empty and a short max-group-wait, a single entry's
// callback must fire quickly and LastLogMark must advance past it.
func TestLogAddSingleEntryFlushesPromptly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()
	defer j.Shutdown(5 * time.Second)

	done := make(chan int, 1)
	start := time.Now()
	j.LogAdd(context.Background(), []byte("hello world"), 1, 1, func(rc int) { done <- rc })

	rc := waitForCallback(t, done, time.Second)
	if rc != 0 {
		t.Fatalf("expected success rc=0, got %d", rc)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("callback took too long: %s", elapsed)
	}

	mark := j.LastMark()
	if mark.Offset <= 0 {
		t.Fatalf("expected LastLogMark to advance past header, got %s", mark)
	}
}

// TestLogAddOrderingPerLedger covers the FIFO-per-ledger ordering guarantee:
// entries sharing a ledger context are completed in enqueue order.
func TestLogAddOrderingPerLedger(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.BufferedEntriesThresh = 4
	cfg.MaxGroupWaitNanos = int64(time.Second) // avoid a timeout flush racing the size threshold
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()
	defer j.Shutdown(5 * time.Second)

	const n = 5
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "ledger-A")
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		j.LogAdd(ctx, []byte(fmt.Sprintf("entry-%d", i)), 42, int64(i), func(rc int) { order <- i })
	}

	got := make([]int, 0, n)
	for i := 0; i < n; i++ {
		select {
		case v := <-order:
			got = append(got, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("only got %d/%d callbacks", len(got), n)
		}
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected callbacks in enqueue order, got %v", got)
		}
	}
}

// TestReplayRecoversAcknowledgedEntries covers invariant #1 of spec §8:
// every acknowledged entry's payload must be recoverable by replay from the
// pre-crash LastLogMark.
func TestReplayRecoversAcknowledgedEntries(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()

	payloads := [][]byte{
		append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1}, []byte("payload-A")...),
		append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2}, []byte("payload-B")...),
		append([]byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 3}, []byte("payload-C")...),
	}
	done := make(chan int, len(payloads))
	for i, p := range payloads {
		j.LogAdd(context.Background(), p, 1, int64(i+1), func(rc int) { done <- rc })
	}
	for range payloads {
		if rc := waitForCallback(t, done, 2*time.Second); rc != 0 {
			t.Fatalf("unexpected rc %d", rc)
		}
	}

	if err := j.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Fresh journal instance over the same directory, simulating a restart.
	j2, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}

	var recovered [][]byte
	err = j2.Replay(func(format FormatVersion, offset int64, payload []byte) error {
		recovered = append(recovered, append([]byte(nil), payload...))
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(recovered) != len(payloads) {
		t.Fatalf("expected %d replayed records, got %d", len(payloads), len(recovered))
	}
	for i, want := range payloads {
		if string(recovered[i]) != string(want) {
			t.Fatalf("record %d mismatch: want %q got %q", i, want, recovered[i])
		}
	}
}

// TestRotationAtMaxJournalSize covers scenario #3 of spec §8: crossing
// max_journal_size closes the old file and the next append opens a journal
// with a strictly larger id.
func TestRotationAtMaxJournalSize(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxJournalSizeBytes = 256
	cfg.PreallocSizeBytes = 4096
	cfg.BufferedEntriesThresh = 0
	cfg.MaxGroupWaitNanos = int64(time.Millisecond)
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()
	defer j.Shutdown(5 * time.Second)

	payload := make([]byte, 300) // exceeds max_journal_size in one batch
	done := make(chan int, 1)
	j.LogAdd(context.Background(), payload, 1, 1, func(rc int) { done <- rc })
	if rc := waitForCallback(t, done, 2*time.Second); rc != 0 {
		t.Fatalf("unexpected rc %d", rc)
	}

	done2 := make(chan int, 1)
	j.LogAdd(context.Background(), []byte("next file"), 1, 2, func(rc int) { done2 <- rc })
	if rc := waitForCallback(t, done2, 2*time.Second); rc != 0 {
		t.Fatalf("unexpected rc %d", rc)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	count := 0
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".txn" {
			count++
		}
	}
	if count < 2 {
		t.Fatalf("expected rotation to produce at least 2 journal files, found %d", count)
	}
}

// TestCheckpointCompleteCompactsOldJournals covers scenario #6 and invariants
// #4/#5 of spec §8: GC never removes a journal at or above the mark, and
// retains at most MaxBackupJournals below it.
func TestCheckpointCompleteCompactsOldJournals(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.MaxJournalSizeBytes = 64
	cfg.PreallocSizeBytes = 4096
	cfg.MaxBackupJournals = 1
	cfg.MaxGroupWaitNanos = int64(time.Millisecond)
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()
	defer j.Shutdown(5 * time.Second)

	// Force several rotations by writing oversized batches one at a time.
	for i := 0; i < 4; i++ {
		done := make(chan int, 1)
		j.LogAdd(context.Background(), make([]byte, 100), 1, int64(i), func(rc int) { done <- rc })
		if rc := waitForCallback(t, done, 2*time.Second); rc != 0 {
			t.Fatalf("unexpected rc %d", rc)
		}
	}

	ckpt := j.NewCheckpoint()
	if err := j.CheckpointComplete(ckpt, true); err != nil {
		t.Fatalf("CheckpointComplete: %v", err)
	}

	below := j.ids.below(ckpt.Mark().LogID)
	if len(below) > cfg.MaxBackupJournals {
		t.Fatalf("expected at most %d backup journals, found %d: %v", cfg.MaxBackupJournals, len(below), below)
	}
}

// TestCheckpointCompleteIdempotent resolves spec §9's open question in favor
// of idempotence: re-committing the same mark must not error or change state.
func TestCheckpointCompleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	dirs := fakeDirs{writable: []string{dir}, all: []string{dir}}

	j, err := New(cfg, dirs, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	j.Start()
	defer j.Shutdown(5 * time.Second)

	done := make(chan int, 1)
	j.LogAdd(context.Background(), []byte("x"), 1, 1, func(rc int) { done <- rc })
	waitForCallback(t, done, 2*time.Second)

	ckpt := j.NewCheckpoint()
	if err := j.CheckpointComplete(ckpt, true); err != nil {
		t.Fatalf("first CheckpointComplete: %v", err)
	}
	if err := j.CheckpointComplete(ckpt, true); err != nil {
		t.Fatalf("second CheckpointComplete (idempotent re-commit): %v", err)
	}
}
