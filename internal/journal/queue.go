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
	"context"
	"sync"
	"time"
)

// CompletionFunc is invoked with rc == 0 once an entry's containing batch
// has been fsynced. It is never invoked with a nonzero rc: after a fatal
// journal error, callbacks of entries still pending are not invoked at all.
type CompletionFunc func(rc int)

// QueueEntry is owned by the ingest queue until the writer moves it into the
// in-flight batch, then by a ForceWriteRequest until its callback has been
// dispatched.
type QueueEntry struct {
	Payload  []byte
	LedgerID int64
	EntryID  int64
	Callback CompletionFunc
	Ctx      context.Context // callback ordering key source; may be nil

	EnqueueTime time.Time
}

// unboundedQueue is a generic MPSC-capable unbounded FIFO. Producers never
// block on consumer progress beyond the brief mutex hold of the push
// itself. The wake/stop channel pairing mirrors scm.Scheduler's run loop
// (scm/scheduler.go), generalized here from a priority heap to a plain FIFO
// slice and made reusable across the ingest queue (§4.C) and the
// writer-to-force-writer queue (§4.E).
type unboundedQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	wakeCh chan struct{}
	stopCh chan struct{}
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	return &unboundedQueue[T]{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Push enqueues an item. Non-blocking and wait-free for the caller apart
// from the queue-push mutex itself.
func (q *unboundedQueue[T]) Push(e T) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

func (q *unboundedQueue[T]) signal() {
	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
}

// Stop causes any blocked Pop to eventually return ok=false once drained.
// Calling Stop more than once is a no-op.
func (q *unboundedQueue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
}

func (q *unboundedQueue[T]) popLocked() (t T, ok bool) {
	if len(q.items) == 0 {
		return t, false
	}
	t = q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *unboundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PopBlocking waits indefinitely for an item, returning ok=false only once
// the queue has been stopped and fully drained.
func (q *unboundedQueue[T]) PopBlocking() (t T, ok bool) {
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, true
		}
		q.mu.Unlock()
		select {
		case <-q.stopCh:
			q.mu.Lock()
			v, ok := q.popLocked()
			q.mu.Unlock()
			if ok {
				return v, true
			}
			return t, false
		case <-q.wakeCh:
		}
	}
}

// PopWait waits up to `d` for an item. d<=0 polls once without blocking.
func (q *unboundedQueue[T]) PopWait(d time.Duration) (t T, ok bool) {
	q.mu.Lock()
	if v, ok := q.popLocked(); ok {
		q.mu.Unlock()
		return v, true
	}
	q.mu.Unlock()

	if d <= 0 {
		return t, false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.stopCh:
		q.mu.Lock()
		v, ok := q.popLocked()
		q.mu.Unlock()
		return v, ok
	case <-q.wakeCh:
		q.mu.Lock()
		v, ok := q.popLocked()
		q.mu.Unlock()
		return v, ok
	case <-timer.C:
		return t, false
	}
}
