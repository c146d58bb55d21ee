/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package journal implements the write-ahead durability substrate described
// in SPEC_FULL.md: the ingest queue, the writer loop, the force-write
// (fsync) loop, checkpointing, garbage collection, and crash-recovery
// replay. It does not index entries; it only durably records and replays
// them, handing completion callbacks to the caller-supplied executor.
package journal

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/launix-de/bookiejournal/internal/callback"
	"github.com/launix-de/bookiejournal/internal/metrics"
)

// Journal wires the ingest queue, writer, and force-writer together and is
// the package's sole public entry point, the way storage.Init wires a whole
// database's subsystems together in the teacher repo's main.go.
type Journal struct {
	cfg     Config
	dirs    DirProvider
	mirrors []MirrorSink
	sink    metrics.Sink
	exec    *callback.Executor

	mark *LastLogMark
	ids  *journalIDSet

	ingest  *unboundedQueue[*QueueEntry]
	fwQueue *unboundedQueue[*ForceWriteRequest]

	w  *writer
	fw *forceWriter

	wg doneSet
}

// doneSet tracks whether Shutdown has already run; Shutdown is idempotent
// the way JournalChannel.Close is.
type doneSet struct {
	stopped bool
}

// New prepares a Journal against cfg.JournalDir but does not start its
// goroutines; call Start. dirs supplies the writable/all directory
// contract (spec §4.A); mirrors is optional best-effort secondary targets
// for the mark file (S3/Ceph — may be nil/empty).
func New(cfg Config, dirs DirProvider, mirrors []MirrorSink, sink metrics.Sink) (*Journal, error) {
	cfg.Normalize()
	if err := os.MkdirAll(cfg.JournalDir, 0750); err != nil {
		return nil, &IoError{Op: "mkdir journal dir", Err: err}
	}
	if sink == nil {
		sink = &metrics.NopSink{}
	}

	ids := newJournalIDSet()
	existing, err := scanJournalDir(cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	for _, id := range existing {
		ids.add(id)
	}

	j := &Journal{
		cfg:     cfg,
		dirs:    dirs,
		mirrors: mirrors,
		sink:    sink,
		exec:    callback.NewExecutor(cfg.NumCallbackThreads),
		mark:    NewLastLogMark(),
		ids:     ids,
		ingest:  newUnboundedQueue[*QueueEntry](),
		fwQueue: newUnboundedQueue[*ForceWriteRequest](),
	}
	return j, nil
}

// Start loads LastLogMark from disk and launches the writer and
// force-writer goroutines.
func (j *Journal) Start() {
	j.mark.advance(readLog(j.dirs))

	j.fw = newForceWriter(j.fwQueue, j.mark, j.exec, j.sink, j.cfg.AdaptiveGroupWrites)
	j.w = newWriter(j.cfg, j.ids, j.ingest, j.fwQueue, j.sink, j.fw.fatalErr)

	go j.fw.run(func(err error) {
		// A force-writer fatal error interrupts the writer: requesting
		// shutdown on the ingest queue unblocks a pending PopBlocking/PopWait
		// the same way closing a channel unblocks a `select` in Go, standing
		// in for the source material's "interrupt the writer thread".
		j.w.requestShutdown()
		j.ingest.Stop()
	})
	go func() {
		j.w.run()
		j.fwQueue.Stop()
	}()
}

// LogAdd enqueues payload for durable append. Non-blocking for the caller.
// ledgerID/entryID are opaque to the journal (used only for callback
// ordering and logging); cb receives rc=0 on durable success.
func (j *Journal) LogAdd(ctx context.Context, payload []byte, ledgerID, entryID int64, cb CompletionFunc) {
	j.sink.SetQueueSize(j.ingest.Len())
	j.sink.SetForceWriteQueueSize(j.fwQueue.Len())
	j.ingest.Push(&QueueEntry{
		Payload:     payload,
		LedgerID:    ledgerID,
		EntryID:     entryID,
		Callback:    cb,
		Ctx:         ctx,
		EnqueueTime: time.Now(),
	})
}

// LastMark returns the current durability frontier.
func (j *Journal) LastMark() LogMark { return j.mark.Get() }

// Replay scans journals from the current LastLogMark forward, handing
// records to scan, and folds the final replay position back into
// LastLogMark so recovery resumes correctly across repeated crashes.
func (j *Journal) Replay(scan ScanFunc) error {
	progress, err := Replay(j.cfg.JournalDir, j.mark.Get(), scan)
	j.mark.advance(progress)
	return err
}

// Shutdown signals the writer to drain its current entry and stop (without
// forcing a final flush of a partial batch — unacked entries are lost, per
// spec §5), waits up to timeout for the writer, stops the force-write queue
// and shuts down the callback executor. It does not wait for the
// force-writer goroutine: that goroutine drains whatever is already queued
// and exits on its own, and callbacks it submits after the executor has shut
// down are dropped. Idempotent.
func (j *Journal) Shutdown(timeout time.Duration) error {
	if j.wg.stopped {
		return nil
	}
	j.wg.stopped = true

	j.w.requestShutdown()
	j.ingest.Stop()

	select {
	case <-j.w.stopped:
	case <-time.After(timeout):
		fmt.Println("journal: shutdown: writer did not stop within timeout")
	}

	j.fwQueue.Stop()
	j.exec.Shutdown()
	return j.w.err
}
