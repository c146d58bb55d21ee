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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// JournalChannel is an append-only file with a user-space write buffer
// layered over the OS file, pre-allocation to avoid metadata fsyncs on
// growth, and group-force-write support via sync_file_range/fdatasync.
//
// Adapted from the buffered-write/sync split in
// storage/persistence-files.go's FileLogfile, generalized to the framed,
// pre-allocated, alignment-aware format spec.md §4.B requires.
type JournalChannel struct {
	mu sync.Mutex

	f    *os.File
	path string
	id   uint64

	bw  *bufio.Writer
	pos int64 // logical end-of-data position (post-header)

	preallocSize   int64
	preallocatedTo int64 // file length we have already extended to

	removePagesFromCache bool
	formatVersion        FormatVersion

	closed bool
}

// OpenJournalChannel creates or opens `<dir>/<hex(id)>.txn`. A new file gets
// a fresh header and the write cursor starts immediately after it; an
// existing file has its header validated and the cursor placed at the end of
// its last complete record (not at the pre-allocated file length).
func OpenJournalChannel(dir string, id uint64, preallocSize int64, bufSize int, formatVersion FormatVersion) (*JournalChannel, error) {
	path := filepath.Join(dir, journalFileName(id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, &IoError{Op: "open", Err: err}
	}

	jc := &JournalChannel{
		f:             f,
		path:          path,
		id:            id,
		bw:            bufio.NewWriterSize(f, bufSize),
		preallocSize:  preallocSize,
		formatVersion: formatVersion,
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IoError{Op: "stat", Err: err}
	}

	if fi.Size() == 0 {
		hdr := writeHeader(formatVersion)
		if _, err := f.Write(hdr); err != nil {
			f.Close()
			return nil, &IoError{Op: "write header", Err: err}
		}
		jc.pos = int64(len(hdr))
		jc.preallocatedTo = int64(len(hdr))
	} else {
		hdr := make([]byte, headerLen)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			f.Close()
			return nil, &IoError{Op: "read header", Err: err}
		}
		if _, err := parseHeader(hdr); err != nil {
			f.Close()
			return nil, err
		}
		// The file length includes pre-allocated zero fill; the logical end
		// is wherever a record scan stops.
		end, err := replayFile(path, headerLen, func(FormatVersion, int64, []byte) error { return nil })
		if err != nil {
			f.Close()
			return nil, err
		}
		jc.pos = end
		jc.preallocatedTo = fi.Size()
	}

	if _, err := f.Seek(jc.pos, 0); err != nil {
		f.Close()
		return nil, &IoError{Op: "seek", Err: err}
	}

	return jc, nil
}

func journalFileName(id uint64) string {
	return fmt.Sprintf("%x.txn", id)
}

// Position returns the logical end-of-data offset.
func (jc *JournalChannel) Position() int64 {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.pos
}

// PreAllocIfNeeded extends the file by another prealloc_size step if the
// next `n` bytes would exceed the currently pre-allocated region. Extending
// via fallocate avoids a metadata-update fsync later on plain growth.
func (jc *JournalChannel) PreAllocIfNeeded(n int64) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.preAllocIfNeededLocked(n)
}

func (jc *JournalChannel) preAllocIfNeededLocked(n int64) error {
	if jc.pos+n <= jc.preallocatedTo {
		return nil
	}
	newLen := jc.preallocatedTo
	for newLen < jc.pos+n {
		newLen += jc.preallocSize
	}
	if err := unix.Fallocate(int(jc.f.Fd()), 0, jc.preallocatedTo, newLen-jc.preallocatedTo); err != nil {
		// fall back to seek+write-zero extension on filesystems without fallocate
		if _, err2 := jc.f.WriteAt([]byte{0}, newLen-1); err2 != nil {
			return &IoError{Op: "preallocate", Err: err2}
		}
	}
	jc.preallocatedTo = newLen
	return nil
}

// Write appends buf to the user-space buffer, flushing to the OS when full,
// and advances the logical position.
func (jc *JournalChannel) Write(buf []byte) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if err := jc.preAllocIfNeededLocked(int64(len(buf))); err != nil {
		return err
	}
	if _, err := jc.bw.Write(buf); err != nil {
		return &IoError{Op: "write", Err: err}
	}
	jc.pos += int64(len(buf))
	return nil
}

// Flush pushes the user buffer to the OS page cache. It does NOT fsync.
// When clearCache is set, POSIX_FADV_DONTNEED is advised for the flushed
// range so the page cache is not held hostage by cold journal data.
func (jc *JournalChannel) Flush(clearCache bool) error {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.flushLocked(clearCache)
}

func (jc *JournalChannel) flushLocked(clearCache bool) error {
	if err := jc.bw.Flush(); err != nil {
		return &IoError{Op: "flush", Err: err}
	}
	if clearCache {
		// best effort; not every filesystem honors FADV_DONTNEED
		_ = unix.Fadvise(int(jc.f.Fd()), 0, jc.pos, unix.FADV_DONTNEED)
	}
	return nil
}

// ForceWrite fsyncs the file. metadata=false requests a data-sync
// (fdatasync) when the platform supports it, skipping inode metadata that
// doesn't affect durability of the bytes already written.
func (jc *JournalChannel) ForceWrite(metadata bool) error {
	jc.mu.Lock()
	fd := int(jc.f.Fd())
	jc.mu.Unlock()
	var err error
	if metadata {
		err = unix.Fsync(fd)
	} else {
		err = unix.Fdatasync(fd)
	}
	if err != nil {
		return &IoError{Op: "force_write", Err: err}
	}
	return nil
}

// StartSyncRange advises the OS to start writing back [start,end) without
// blocking for completion.
func (jc *JournalChannel) StartSyncRange(start, end int64) error {
	jc.mu.Lock()
	fd := int(jc.f.Fd())
	jc.mu.Unlock()
	if end <= start {
		return nil
	}
	err := unix.SyncFileRange(fd, start, end-start, unix.SYNC_FILE_RANGE_WRITE)
	if err != nil {
		// platform without range-sync support: fall back to a full force-write
		return jc.ForceWrite(false)
	}
	return nil
}

// SyncRangeOrForceWrite advises a sync of [start,start+length) and, when
// that is unavailable, does a full force-write instead.
func (jc *JournalChannel) SyncRangeOrForceWrite(start, length int64) error {
	return jc.StartSyncRange(start, start+length)
}

// Close flushes and optionally fsyncs before releasing the OS handle.
// Idempotent: a second Close is a no-op.
func (jc *JournalChannel) Close(sync bool) error {
	jc.mu.Lock()
	if jc.closed {
		jc.mu.Unlock()
		return nil
	}
	if err := jc.flushLocked(false); err != nil {
		jc.mu.Unlock()
		return err
	}
	jc.closed = true
	f := jc.f
	jc.mu.Unlock()

	if sync {
		if err := unix.Fsync(int(f.Fd())); err != nil {
			f.Close()
			return &IoError{Op: "close-sync", Err: err}
		}
	}
	return f.Close()
}

// ID returns the log id this channel is writing.
func (jc *JournalChannel) ID() uint64 { return jc.id }

// Path returns the filesystem path of the channel's backing file.
func (jc *JournalChannel) Path() string { return jc.path }
