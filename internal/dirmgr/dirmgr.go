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

// Package dirmgr implements the journal.DirProvider contract: the set of
// local directories a bookie keeps its lastMark copies in, plus liveness
// tracking so a directory that disappears (an unmounted disk) drops out of
// the writable set instead of failing every checkpoint. Adapted from
// storage/persistence-files.go's directory bookkeeping, generalized from a
// single data directory to the multi-directory, multi-availability layout
// spec.md §4.A describes.
package dirmgr

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Manager tracks a fixed set of candidate directories and which of them are
// currently writable, using an fsnotify watcher to notice a directory
// disappearing or reappearing (e.g. a removed/remounted disk) without
// polling stat() on every checkpoint.
type Manager struct {
	mu        sync.RWMutex
	all       []string
	writable  map[string]bool
	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Manager over dirs, creating any that don't yet exist and
// marking directories that cannot be created as initially unwritable rather
// than failing the whole journal. A directory that exists but cannot be
// watched is logged and still counted as writable.
func New(dirs []string) (*Manager, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("dirmgr: at least one directory is required")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dirmgr: creating watcher: %w", err)
	}

	m := &Manager{
		all:      append([]string(nil), dirs...),
		writable: make(map[string]bool, len(dirs)),
		watcher:  w,
		done:     make(chan struct{}),
	}

	for _, d := range dirs {
		if err := os.MkdirAll(d, 0750); err != nil {
			fmt.Printf("dirmgr: %s unavailable at startup: %v\n", d, err)
			m.writable[d] = false
			continue
		}
		if err := w.Add(d); err != nil {
			fmt.Printf("dirmgr: watch %s: %v\n", d, err)
		}
		m.writable[d] = true
	}

	go m.watch()
	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.reevaluate(ev.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			fmt.Printf("dirmgr: watcher error: %v\n", err)
		}
	}
}

// reevaluate re-stats every configured directory on any watcher event; the
// changed path itself is not used. A directory counts as writable while it
// exists and is a directory.
func (m *Manager) reevaluate(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.all {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			if m.writable[d] {
				fmt.Printf("dirmgr: %s became unwritable: %v\n", d, err)
			}
			m.writable[d] = false
		} else {
			m.writable[d] = true
		}
	}
	_ = path
}

// ListWritableDirs implements journal.DirProvider.
func (m *Manager) ListWritableDirs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, d := range m.all {
		if m.writable[d] {
			out = append(out, d)
		}
	}
	return out
}

// ListAllDirs implements journal.DirProvider: every configured directory,
// writable or not, so recovery can still read a mark file off a read-only
// mount.
func (m *Manager) ListAllDirs() []string {
	return append([]string(nil), m.all...)
}

// Close stops the watcher goroutine.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return m.watcher.Close()
}
