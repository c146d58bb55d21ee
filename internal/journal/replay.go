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
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ScanFunc receives each successfully-read record during replay.
type ScanFunc func(format FormatVersion, offset int64, payload []byte) error

// Replay scans journals from mark.LogID onward, starting at mark.Offset in
// the first file and at 0 in every subsequent one, handing each record to
// scan. It returns the offset replay progressed to in the LAST file it
// touched, which the caller should fold back into LastLogMark so a crash
// during replay resumes correctly (spec §4.F step 4).
func Replay(dir string, mark LogMark, scan ScanFunc) (LogMark, error) {
	ids, err := scanJournalDir(dir)
	if err != nil {
		return mark, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var toReplay []uint64
	for _, id := range ids {
		if id >= mark.LogID {
			toReplay = append(toReplay, id)
		}
	}

	if mark.LogID > 0 {
		if len(toReplay) == 0 || toReplay[0] != mark.LogID {
			return mark, &FormatError{Msg: fmt.Sprintf("missing journal %x at or after mark", mark.LogID)}
		}
	}

	progress := mark
	for _, id := range toReplay {
		startOffset := int64(0)
		if id == mark.LogID {
			startOffset = mark.Offset
		}
		finalOffset, err := replayFile(filepath.Join(dir, journalFileName(id)), startOffset, scan)
		if err != nil {
			return progress, err
		}
		progress = LogMark{LogID: id, Offset: finalOffset}
	}
	return progress, nil
}

// replayFile scans a single journal file starting at `startOffset`,
// returning the last successfully-read offset.
func replayFile(path string, startOffset int64, scan ScanFunc) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return startOffset, &IoError{Op: "open for replay", Err: err}
	}
	defer f.Close()

	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(f, hdr); err != nil {
		// A header that can't even be read is a truncated/empty file: treat
		// as the valid end of the world for this segment.
		return startOffset, nil
	}
	format, err := parseHeader(hdr)
	if err != nil {
		return startOffset, err
	}

	pos := startOffset
	if pos < headerLen {
		pos = headerLen
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return startOffset, &IoError{Op: "seek for replay", Err: err}
	}

	lenBuf := make([]byte, recordHeaderLen)
	for {
		n, err := io.ReadFull(f, lenBuf)
		if err != nil || n < recordHeaderLen {
			// Truncated tail: the normal shape of an unclean shutdown.
			return pos, nil
		}
		recLen := int32(binary.BigEndian.Uint32(lenBuf))

		if recLen == 0 {
			// Logical EOF.
			return pos, nil
		}

		if recLen == int32(PaddingMask) {
			if format < V5 {
				return pos, &FormatError{Msg: "padding record on pre-V5 journal"}
			}
			padLenBuf := make([]byte, 4)
			if _, err := io.ReadFull(f, padLenBuf); err != nil {
				return pos, nil
			}
			padLen := int64(binary.BigEndian.Uint32(padLenBuf))
			if _, err := f.Seek(padLen, io.SeekCurrent); err != nil {
				return pos, nil
			}
			pos += 8 + padLen
			continue
		}

		if recLen < 0 {
			return pos, &FormatError{Msg: fmt.Sprintf("bad record length %d", recLen)}
		}

		payload := make([]byte, recLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			// Truncated payload: valid end of file for an unclean shutdown.
			return pos, nil
		}

		recordOffset := pos
		pos += recordHeaderLen + int64(recLen)
		if err := scan(format, recordOffset, payload); err != nil {
			return recordOffset, err
		}
	}
}
