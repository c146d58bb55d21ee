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

import "encoding/binary"

// FormatVersion is the journal file format, stored in the header so a
// scanner knows whether padding records may appear.
type FormatVersion uint32

const (
	V1 FormatVersion = 1
	V2 FormatVersion = 2
	V3 FormatVersion = 3
	V4 FormatVersion = 4
	V5 FormatVersion = 5 // introduces padding records for alignment
)

// PaddingMask marks a framed record as a padding record instead of a payload.
const PaddingMask int32 = -256 // 0xFFFFFF00 as signed int32

// headerMagic identifies a journal file; headerLen is fixed and accounted
// for uniformly by writer and scanner.
var headerMagic = [4]byte{'B', 'K', 'J', 'L'}

const headerLen = 12 // magic(4) | format_version(4) | reserved(4)

// recordHeaderLen is the width of a framed record's length prefix; it is
// part of the alignment contract, not an implementation detail.
const recordHeaderLen = 4

// writeHeader serializes the fixed journal file header.
func writeHeader(version FormatVersion) []byte {
	b := make([]byte, headerLen)
	copy(b[0:4], headerMagic[:])
	binary.BigEndian.PutUint32(b[4:8], uint32(version))
	return b
}

// parseHeader validates a header read from disk and returns its format version.
func parseHeader(b []byte) (FormatVersion, error) {
	if len(b) < headerLen {
		return 0, &FormatError{Msg: "short header"}
	}
	if b[0] != headerMagic[0] || b[1] != headerMagic[1] || b[2] != headerMagic[2] || b[3] != headerMagic[3] {
		return 0, &FormatError{Msg: "bad magic"}
	}
	return FormatVersion(binary.BigEndian.Uint32(b[4:8])), nil
}

// alignPadding computes the padding record needed so that the next record
// written at `position` lands on a multiple of `align`. It returns the
// number of zero bytes to write after the 8-byte padding record header
// (PaddingMask int32 | pad_len int32). Returns 0 if already aligned.
//
// The 8-byte record header width (4-byte len + 4-byte pad_len) is part of
// this function's contract: a padding record is never shorter than 8 bytes.
func alignPadding(position int64, align int64) (padLen int64) {
	if align <= 0 {
		return 0
	}
	residual := position % align
	if residual == 0 {
		return 0
	}
	if align-residual >= 8 {
		return align - residual - 8
	}
	return 2*align - residual - 8
}

// encodeFrame returns the wire bytes for a single payload record: a
// big-endian i32 length prefix followed by the payload.
func encodeFrame(payload []byte) []byte {
	b := make([]byte, recordHeaderLen+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
	copy(b[4:], payload)
	return b
}

// encodePadding returns the wire bytes for a padding record of the given
// zero-fill length.
func encodePadding(padLen int64) []byte {
	b := make([]byte, 8+padLen)
	binary.BigEndian.PutUint32(b[0:4], uint32(PaddingMask))
	binary.BigEndian.PutUint32(b[4:8], uint32(padLen))
	// remaining bytes are already zero
	return b
}
