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
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// Checkpoint is the opaque handle new_checkpoint() returns. The trace id is
// purely for log correlation (DESIGN.md: google/uuid, adapted from
// storage/fast_uuid.go) and has no bearing on the durability contract.
type Checkpoint struct {
	mark    LogMark
	traceID uuid.UUID
}

// Mark exposes the snapshotted position for callers that need to display it.
func (c Checkpoint) Mark() LogMark { return c.mark }

func (c Checkpoint) String() string {
	return fmt.Sprintf("checkpoint{%s trace=%s}", c.mark, c.traceID)
}

// NewCheckpoint snapshots the current LastLogMark.
func (j *Journal) NewCheckpoint() Checkpoint {
	return Checkpoint{mark: j.mark.markLog(), traceID: newTraceID()}
}

// CheckpointComplete rolls the mark file to every writable directory and,
// when compact is set, garbage-collects journals strictly below the
// checkpoint's log id, retaining the youngest MaxBackupJournals.
//
// Idempotent: re-committing the same mark rewrites identical bytes and
// re-runs GC against the same retention window, landing on the same state
// (spec §9 open question, resolved in favor of idempotence).
func (j *Journal) CheckpointComplete(ckpt Checkpoint, compact bool) error {
	if err := rollLog(j.dirs, j.mirrors, ckpt.mark); err != nil {
		return err
	}
	if !compact {
		return nil
	}
	return j.gc(ckpt.mark)
}

// gc deletes journal files with id strictly less than mark.LogID, keeping
// the youngest MaxBackupJournals of them. Never deletes a file with
// id >= mark.LogID (invariant 4 of spec §8).
func (j *Journal) gc(mark LogMark) error {
	below := j.ids.below(mark.LogID)
	sort.Slice(below, func(i, k int) bool { return below[i] < below[k] })

	keep := j.cfg.MaxBackupJournals
	if keep < 0 {
		keep = 0
	}
	toDelete := below
	if len(below) > keep {
		toDelete = below[:len(below)-keep]
	} else {
		toDelete = nil
	}

	for _, id := range toDelete {
		path := filepath.Join(j.cfg.JournalDir, journalFileName(id))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			// Deletion failures are logged, never fatal (spec §4.G).
			fmt.Printf("gc: failed to delete %s: %v\n", path, err)
			continue
		}
		j.ids.remove(id)
	}
	return nil
}
