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
package journal

import (
	"fmt"
	"time"

	"github.com/launix-de/bookiejournal/internal/metrics"
)

// writer is the single goroutine that dequeues entries, frames and buffers
// them, decides when to flush, rotates files, and hands batches to the
// force-writer. Adapted in spirit from storage/shard.go's single-writer,
// background-rebuild split: one goroutine owns mutation, background work
// (here, fsync) happens off to the side.
type writer struct {
	cfg     Config
	dir     string
	ingest  *unboundedQueue[*QueueEntry]
	fwQueue *unboundedQueue[*ForceWriteRequest]
	ids     *journalIDSet
	sink    metrics.Sink

	logFile            *JournalChannel
	toFlush            []*QueueEntry
	batchBytes         int64
	lastFlushPosition  int64
	groupWhenTimeout   bool

	shutdown chan struct{}
	fatal    <-chan error
	stopped  chan struct{}
	err      error
}

func newWriter(cfg Config, ids *journalIDSet, ingest *unboundedQueue[*QueueEntry], fwQueue *unboundedQueue[*ForceWriteRequest], sink metrics.Sink, fatal <-chan error) *writer {
	return &writer{
		cfg:      cfg,
		dir:      cfg.JournalDir,
		ingest:   ingest,
		fwQueue:  fwQueue,
		ids:      ids,
		sink:     sink,
		shutdown: make(chan struct{}),
		fatal:    fatal,
		stopped:  make(chan struct{}),
	}
}

func (w *writer) requestShutdown() {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}
}

func (w *writer) run() {
	defer close(w.stopped)
	for {
		if err := w.ensureOpen(); err != nil {
			w.err = err
			fmt.Printf("writer: fatal: %v\n", err)
			return
		}

		qe, waited := w.nextEntry()
		shouldFlush := false

		if len(w.toFlush) > 0 && waited {
			shouldFlush = w.decideFlush(qe)
		}

		if shouldFlush {
			if err := w.flushBatch(); err != nil {
				w.err = err
				fmt.Printf("writer: fatal: %v\n", err)
				return
			}
		}

		select {
		case <-w.shutdown:
			return
		default:
		}
		select {
		case <-w.fatal:
			return
		default:
		}

		if qe == nil {
			continue
		}

		// A flush that crossed max_journal_size dropped w.logFile to force
		// rotation on "the next iteration" (spec §4.D step 4); rather than
		// spin an extra empty iteration, reopen inline so this entry lands
		// in the freshly rotated file.
		if w.logFile == nil {
			if err := w.ensureOpen(); err != nil {
				w.err = err
				fmt.Printf("writer: fatal: %v\n", err)
				return
			}
		}

		if err := w.appendEntry(qe); err != nil {
			w.err = err
			fmt.Printf("writer: fatal: %v\n", err)
			return
		}
	}
}

// ensureOpen rotates/opens the active journal file when none is open.
func (w *writer) ensureOpen() error {
	if w.logFile != nil {
		return nil
	}
	start := time.Now()
	existingMax := uint64(0)
	if m, ok := w.ids.max(); ok {
		existingMax = m
	}
	id := nextJournalID(existingMax)
	jc, err := OpenJournalChannel(w.dir, id, w.cfg.PreallocSizeBytes, w.cfg.WriteBufferSizeBytes, w.cfg.FormatVersionToWrite)
	if err != nil {
		return err
	}
	w.ids.add(id)
	w.logFile = jc
	w.lastFlushPosition = 0
	w.sink.ObserveJournalCreationLatencyNanos(time.Since(start).Nanoseconds())
	return nil
}

// nextEntry implements step 2: blocking dequeue when to_flush is empty,
// otherwise a bounded wait derived from the oldest pending entry's age.
// waited reports whether we actually performed the bounded-wait branch
// (step 3's "should_flush" decision only applies then).
func (w *writer) nextEntry() (qe *QueueEntry, waited bool) {
	if len(w.toFlush) == 0 {
		e, ok := w.ingest.PopBlocking()
		if !ok {
			return nil, false
		}
		return e, false
	}

	var wait time.Duration
	if w.cfg.FlushWhenQueueEmpty {
		wait = 0
	} else if w.cfg.MaxGroupWaitNanos > 0 {
		elapsed := time.Since(w.toFlush[0].EnqueueTime)
		remaining := time.Duration(w.cfg.MaxGroupWaitNanos) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		wait = remaining
	}
	e, ok := w.ingest.PopWait(wait)
	if !ok {
		return nil, true
	}
	return e, true
}

// decideFlush implements step 3's cascade of timeout-promotion,
// timeout-commit, size-threshold, and empty-queue rules.
func (w *writer) decideFlush(qe *QueueEntry) bool {
	oldest := w.toFlush[0]

	if w.cfg.MaxGroupWaitNanos > 0 && !w.groupWhenTimeout &&
		time.Since(oldest.EnqueueTime) > time.Duration(w.cfg.MaxGroupWaitNanos) {
		// Timeout promotion: admit this arrival into the batch, don't flush yet.
		w.groupWhenTimeout = true
		return false
	}

	if w.groupWhenTimeout && qe != nil &&
		time.Since(qe.EnqueueTime) < time.Duration(w.cfg.MaxGroupWaitNanos) {
		w.groupWhenTimeout = false
		w.sink.IncFlushCause(metrics.CauseMaxWait)
		return true
	}

	if qe != nil {
		sizeExceeded := w.cfg.BufferedEntriesThresh > 0 && len(w.toFlush) > w.cfg.BufferedEntriesThresh
		bytesExceeded := w.logFile.Position() > w.lastFlushPosition+w.cfg.BufferedWritesThresh
		if sizeExceeded || bytesExceeded {
			w.sink.IncFlushCause(metrics.CauseMaxOutstandingBytes)
			return true
		}
	}

	if qe == nil {
		// Reached when a zero-wait poll found the queue empty: either because
		// flush_when_queue_empty forces a poll, or because a timed-out batch
		// (groupWhenTimeout) saw no further arrival.
		w.sink.IncFlushCause(metrics.CauseEmptyQueue)
		return true
	}
	return false
}

// flushBatch implements step 4: optional alignment padding, flush to the OS,
// range-sync or hand off to the force-writer, rotate if oversized.
func (w *writer) flushBatch() error {
	flushStart := time.Now()

	if w.cfg.FormatVersionToWrite >= V5 && w.logFile.Position()%w.cfg.AlignmentSize != 0 {
		padLen := alignPadding(w.logFile.Position(), w.cfg.AlignmentSize)
		if err := w.logFile.Write(encodePadding(padLen)); err != nil {
			return err
		}
	}

	if err := w.logFile.Flush(w.cfg.RemovePagesFromCache); err != nil {
		return err
	}
	prevFlushPosition := w.lastFlushPosition
	w.lastFlushPosition = w.logFile.Position()
	w.sink.ObserveFlushLatencyNanos(time.Since(flushStart).Nanoseconds())

	if !w.cfg.AdaptiveGroupWrites {
		if err := w.logFile.StartSyncRange(prevFlushPosition, w.lastFlushPosition); err != nil {
			return err
		}
	}

	shouldClose := w.lastFlushPosition > w.cfg.MaxJournalSizeBytes
	req := &ForceWriteRequest{
		Channel:     w.logFile,
		LogID:       w.logFile.ID(),
		Start:       prevFlushPosition,
		End:         w.lastFlushPosition,
		Waiters:     w.toFlush,
		ShouldClose: shouldClose,
	}
	w.sink.ObserveBatchEntries(int64(len(w.toFlush)))
	w.sink.ObserveBatchBytes(w.batchBytes)
	w.fwQueue.Push(req)

	w.toFlush = nil
	w.batchBytes = 0
	if shouldClose {
		// The force-writer closes the file after fsync; the writer only
		// drops its reference so the next iteration rotates.
		w.logFile = nil
	}
	return nil
}

// appendEntry implements step 7: pre-allocate, frame, write, and account.
func (w *writer) appendEntry(qe *QueueEntry) error {
	addStart := qe.EnqueueTime
	frame := encodeFrame(qe.Payload)
	if err := w.logFile.PreAllocIfNeeded(int64(len(frame))); err != nil {
		return err
	}
	if err := w.logFile.Write(frame); err != nil {
		return err
	}
	w.toFlush = append(w.toFlush, qe)
	n := int64(len(frame))
	w.batchBytes += n
	w.sink.AddBytesWritten(n)
	w.sink.ObserveAddLatencyNanos(time.Since(addStart).Nanoseconds())
	return nil
}
