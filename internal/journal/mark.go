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
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// LogMark is a (log_id, offset) pair with lexicographic order: MIN = (0,0),
// unbounded above.
type LogMark struct {
	LogID  uint64
	Offset int64
}

// MinLogMark is the zero value of the total order.
var MinLogMark = LogMark{LogID: 0, Offset: 0}

// Less reports whether m sorts strictly before o.
func (m LogMark) Less(o LogMark) bool {
	if m.LogID != o.LogID {
		return m.LogID < o.LogID
	}
	return m.Offset < o.Offset
}

// AtLeast reports whether m is >= o.
func (m LogMark) AtLeast(o LogMark) bool {
	return !m.Less(o)
}

func (m LogMark) String() string {
	return fmt.Sprintf("(%d,%d)", m.LogID, m.Offset)
}

const markFileName = "lastMark"
const markFileLen = 16 // log_id(i64 BE) | offset(i64 BE)

func encodeMark(m LogMark) []byte {
	b := make([]byte, markFileLen)
	binary.BigEndian.PutUint64(b[0:8], m.LogID)
	binary.BigEndian.PutUint64(b[8:16], uint64(m.Offset))
	return b
}

func decodeMark(b []byte) (LogMark, error) {
	if len(b) < markFileLen {
		return LogMark{}, &FormatError{Msg: "short mark file"}
	}
	return LogMark{
		LogID:  binary.BigEndian.Uint64(b[0:8]),
		Offset: int64(binary.BigEndian.Uint64(b[8:16])),
	}, nil
}

// DirProvider is the directory manager contract the journal core consumes:
// the set of writable directories where marker files live, and the full set
// (writable and read-only) used when reading back every copy on recovery.
type DirProvider interface {
	ListWritableDirs() []string
	ListAllDirs() []string
}

// MirrorSink is a best-effort secondary target for the marker bytes (e.g. an
// S3 or Ceph copy). Failures are logged and never affect the "at least one
// local directory must succeed" contract.
type MirrorSink interface {
	Name() string
	WriteMark(b []byte) error
}

// LastLogMark is the process-wide durability frontier: advanced by the
// force-writer goroutine after each fsynced batch and by Journal.Start and
// Journal.Replay when loading or recovering, and read by the checkpoint API
// from any goroutine. Stored as a single atomic pointer so
// readers never block on the force-writer.
type LastLogMark struct {
	v atomic.Value // LogMark
}

// NewLastLogMark creates a tracker seeded at MinLogMark.
func NewLastLogMark() *LastLogMark {
	l := &LastLogMark{}
	l.v.Store(MinLogMark)
	return l
}

// markLog snapshots the current mark.
func (l *LastLogMark) markLog() LogMark {
	return l.v.Load().(LogMark)
}

// Get is the external-facing accessor used by the checkpoint API.
func (l *LastLogMark) Get() LogMark { return l.markLog() }

// advance assigns a new mark; it must be monotonically non-decreasing.
// A regression is an invariant violation promoted to a panic, matching the
// teacher's treatment of cross-component invariants in
// storage/transaction.go's commitACID.
func (l *LastLogMark) advance(next LogMark) {
	prev := l.markLog()
	if next.Less(prev) {
		panic(fmt.Sprintf("journal: LastLogMark regression: %s -> %s", prev, next))
	}
	l.v.Store(next)
}

// rollLog serializes the snapshot and writes+fsyncs it to the lastMark file
// in every currently writable directory, then best-effort to every mirror.
// Succeeds if at least one local directory accepted the write; this is the
// "≥ 1 durable copy" requirement spec.md §9 declares as the intended
// behavior (not the silently-ignore-all-failures reading).
func rollLog(dirs DirProvider, mirrors []MirrorSink, m LogMark) error {
	b := encodeMark(m)
	writable := dirs.ListWritableDirs()
	var successes int
	var lastErr error
	for _, dir := range writable {
		if err := writeMarkFile(filepath.Join(dir, markFileName), b); err != nil {
			lastErr = err
			fmt.Printf("journal: rollLog: failed to write mark to %s: %v\n", dir, err)
			continue
		}
		successes++
	}
	for _, m := range mirrors {
		if err := m.WriteMark(b); err != nil {
			fmt.Printf("journal: rollLog: mirror %s failed: %v\n", m.Name(), err)
		}
	}
	if successes == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no writable directories configured")
		}
		return fmt.Errorf("journal: rollLog: all %d directories failed, last error: %w", len(writable), lastErr)
	}
	return nil
}

func writeMarkFile(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	return f.Sync()
}

// readLog reads every copy across all (writable and read-only) directories
// and takes the maximum, tolerating missing or partial files.
func readLog(dirs DirProvider) LogMark {
	best := MinLogMark
	for _, dir := range dirs.ListAllDirs() {
		b, err := os.ReadFile(filepath.Join(dir, markFileName))
		if err != nil || len(b) < markFileLen {
			continue
		}
		m, err := decodeMark(b)
		if err != nil {
			continue
		}
		if best.Less(m) {
			best = m
		}
	}
	return best
}
