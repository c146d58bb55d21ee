/*
Copyright (C) 2024  Carl-Philip Hänsch

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
	"time"

	"github.com/docker/go-units"
)

// Config mirrors the recognized options of spec §6. Byte/KB/MB fields are
// plain ints here; ParseSize below is what callers (e.g. flag parsing in
// cmd/bookie) use to turn "64MB"-style strings into them, the way
// storage/settings.go keeps a flat options struct with no nested config tree.
type Config struct {
	JournalDir string

	MaxJournalSizeBytes   int64
	PreallocSizeBytes     int64
	WriteBufferSizeBytes  int
	AlignmentSize         int64
	FormatVersionToWrite  FormatVersion
	AdaptiveGroupWrites   bool
	MaxGroupWaitNanos     int64
	BufferedWritesThresh  int64
	BufferedEntriesThresh int
	FlushWhenQueueEmpty   bool
	RemovePagesFromCache  bool
	MaxBackupJournals     int
	NumCallbackThreads    int
}

// DefaultConfig matches the defaults a bookie ships with; callers override
// individual fields before calling Normalize.
var DefaultConfig = Config{
	MaxJournalSizeBytes:   2 << 30, // 2GiB
	PreallocSizeBytes:     16 << 20,
	WriteBufferSizeBytes:  64 << 10,
	AlignmentSize:         512,
	FormatVersionToWrite:  V5,
	AdaptiveGroupWrites:   true,
	MaxGroupWaitNanos:     int64(2 * time.Millisecond),
	BufferedWritesThresh:  512 << 10,
	BufferedEntriesThresh: 0,
	FlushWhenQueueEmpty:   true,
	RemovePagesFromCache:  false,
	MaxBackupJournals:     5,
	NumCallbackThreads:    1,
}

// ParseSize converts a human size ("64MB", "1GiB", "4096") into bytes using
// the same units vocabulary docker/go-units parses container flags with.
func ParseSize(s string) (int64, error) {
	return units.RAMInBytes(s)
}

// Normalize fills zero-valued fields from DefaultConfig and clamps nonsensical
// combinations (e.g. alignment must be a power of two and at least 8, the
// minimum padding-record width).
func (c *Config) Normalize() {
	if c.MaxJournalSizeBytes <= 0 {
		c.MaxJournalSizeBytes = DefaultConfig.MaxJournalSizeBytes
	}
	if c.PreallocSizeBytes <= 0 {
		c.PreallocSizeBytes = DefaultConfig.PreallocSizeBytes
	}
	if c.WriteBufferSizeBytes <= 0 {
		c.WriteBufferSizeBytes = DefaultConfig.WriteBufferSizeBytes
	}
	if c.AlignmentSize < 8 || c.AlignmentSize&(c.AlignmentSize-1) != 0 {
		c.AlignmentSize = DefaultConfig.AlignmentSize
	}
	if c.FormatVersionToWrite == 0 {
		c.FormatVersionToWrite = DefaultConfig.FormatVersionToWrite
	}
	if c.MaxBackupJournals <= 0 {
		c.MaxBackupJournals = DefaultConfig.MaxBackupJournals
	}
	if c.NumCallbackThreads <= 0 {
		c.NumCallbackThreads = DefaultConfig.NumCallbackThreads
	}
}
