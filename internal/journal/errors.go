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

import "fmt"

// IoError wraps a filesystem/fsync failure. Writer and force-writer errors
// of this kind are fatal to the process per spec §7.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return fmt.Sprintf("journal: io error during %s: %v", e.Op, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// FormatError signals a corrupt header or an unexpected record during replay
// (bad length, padding record on a pre-V5 reader, missing recovery file).
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "journal: format error: " + e.Msg }
