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
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
)

// journalIDSet keeps the set of journal ids present on disk in ascending
// order, the same role storage/index.go's deltaBtree plays for visible
// recids: O(log n) insert plus a cheap in-order walk for GC's below-the-mark
// query and the newest-id lookup rotation uses to allocate the next id.
//
// Mutated from the writer goroutine (add, on rotation) and from whichever
// goroutine drives a checkpoint (remove, during GC), so every access goes
// through mu: btree.BTreeG is not safe for concurrent mutation, and spec §5
// requires shared mutable state here to be lock-protected.
type journalIDSet struct {
	mu sync.Mutex
	t  *btree.BTreeG[uint64]
}

func newJournalIDSet() *journalIDSet {
	return &journalIDSet{
		t: btree.NewG[uint64](8, func(a, b uint64) bool { return a < b }),
	}
}

func (s *journalIDSet) add(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.ReplaceOrInsert(id)
}

func (s *journalIDSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t.Delete(id)
}

// below returns every id strictly less than `to`, in ascending order.
func (s *journalIDSet) below(to uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	s.t.AscendLessThan(to, func(id uint64) bool {
		out = append(out, id)
		return true
	})
	return out
}

func (s *journalIDSet) max() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Max()
}

// scanJournalDir lists the journal ids already present in dir by parsing
// `<hex(log_id)>.txn` filenames.
func scanJournalDir(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IoError{Op: "readdir", Err: err}
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".txn") {
			continue
		}
		hex := strings.TrimSuffix(name, ".txn")
		id, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// nextJournalID allocates a strictly monotonic id: max(existing, wall-clock
// millis) + 1, so that even across rapid rotations within the same process
// lifetime no id is reused (wall-clock alone could collide on busy rotation).
func nextJournalID(existingMax uint64) uint64 {
	millis := uint64(time.Now().UnixMilli())
	base := existingMax
	if millis > base {
		base = millis
	}
	return base + 1
}
