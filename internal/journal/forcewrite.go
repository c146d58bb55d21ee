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

	"github.com/launix-de/bookiejournal/internal/callback"
	"github.com/launix-de/bookiejournal/internal/metrics"
)

// ForceWriteRequest is handed from the writer to the force-writer. A marker
// request carries no waiters and no fsync work; it only tells the
// force-writer that a subsequent real request needs an fsync.
type ForceWriteRequest struct {
	Channel     *JournalChannel
	LogID       uint64
	Start, End  int64 // flush range [start, end)
	Waiters     []*QueueEntry
	ShouldClose bool
	IsMarker    bool
}

// forceWriter is the single background goroutine that fsyncs flushed
// batches, advances LastLogMark, and dispatches completion callbacks.
type forceWriter struct {
	queue    *unboundedQueue[*ForceWriteRequest]
	mark     *LastLogMark
	exec     *callback.Executor
	sink     metrics.Sink
	groupFWs bool // journal_adaptive_group_writes

	shouldForce      bool
	countInLastForce uint64

	fatalErr chan error // closed/sent once on a fatal IO error
	running  bool
}

func newForceWriter(q *unboundedQueue[*ForceWriteRequest], mark *LastLogMark, exec *callback.Executor, sink metrics.Sink, groupFWs bool) *forceWriter {
	return &forceWriter{
		queue:       q,
		mark:        mark,
		exec:        exec,
		sink:        sink,
		groupFWs:    groupFWs,
		shouldForce: true,
		fatalErr:    make(chan error, 1),
		running:     true,
	}
}

// run drains the force-write queue until stopped or a fatal IO error occurs.
// On IO failure: log, flip running=false, interrupt the writer (by closing
// the ingest queue's stop channel via onFatal), exit — matching spec §4.E's
// "this is fatal, the node must restart".
func (fw *forceWriter) run(onFatal func(error)) {
	for {
		req, ok := fw.queue.PopBlocking()
		if !ok {
			return // drained after Stop(): exit cleanly
		}
		if err := fw.handle(req); err != nil {
			fw.running = false
			fmt.Printf("forcewrite: fatal io error: %v\n", err)
			select {
			case fw.fatalErr <- err:
			default:
			}
			if onFatal != nil {
				onFatal(err)
			}
			return
		}
	}
}

func (fw *forceWriter) handle(r *ForceWriteRequest) error {
	if r.IsMarker {
		// A marker only ever resets shouldForce via the bookkeeping below;
		// it carries no fsync work and no waiters.
		fw.shouldForce = true
		return nil
	}

	if fw.shouldForce {
		if fw.groupFWs {
			// Post a marker before fsyncing so any real request appended
			// between now and the marker's dequeue benefits from this fsync.
			fw.queue.Push(&ForceWriteRequest{IsMarker: true})
		}
		fw.sink.ObserveGroupForceCount(int64(fw.countInLastForce))
		fw.countInLastForce = 0

		var err error
		if fw.groupFWs {
			err = r.Channel.ForceWrite(false)
		} else {
			err = r.Channel.SyncRangeOrForceWrite(r.Start, r.End-r.Start)
		}
		if err != nil {
			return err
		}
	}

	// Only the in-memory frontier advances here (spec §4.E step 3); marker
	// files are rolled to disk solely by the checkpoint API (§4.G), not on
	// every fsynced batch.
	fw.mark.advance(LogMark{LogID: r.LogID, Offset: r.End})

	for _, e := range r.Waiters {
		entry := e
		if entry.Ctx != nil {
			fw.exec.Submit(entry.LedgerID, func() {
				if entry.Callback != nil {
					entry.Callback(0)
				}
			})
		} else {
			fw.exec.SubmitUnkeyed(func() {
				if entry.Callback != nil {
					entry.Callback(0)
				}
			})
		}
	}
	fw.countInLastForce += uint64(len(r.Waiters))

	if r.ShouldClose {
		if err := r.Channel.Close(true); err != nil {
			fmt.Printf("forcewrite: close %s: %v\n", r.Channel.Path(), err)
		}
	}

	if fw.groupFWs && !r.ShouldClose {
		fw.shouldForce = false
	} else {
		fw.shouldForce = true
	}
	return nil
}
