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

// bookie runs a standalone write-ahead journal node: it opens its journal
// directories, replays any entries left over from an unclean shutdown,
// starts accepting appends, and serves a live metrics feed until asked to
// stop.
package main

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/dc0d/onexit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launix-de/bookiejournal/internal/admin"
	"github.com/launix-de/bookiejournal/internal/dirmgr"
	"github.com/launix-de/bookiejournal/internal/journal"
	"github.com/launix-de/bookiejournal/internal/metrics"
)

func main() {
	fmt.Print(`bookie Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	var (
		journalDir   = flag.String("journal-dir", "./journal", "primary journal directory")
		extraDirs    = flag.String("mirror-dirs", "", "comma-separated additional local directories for the mark file")
		maxJournal   = flag.String("max-journal-size", "2GiB", "journal file size that triggers rotation")
		prealloc     = flag.String("prealloc-size", "16MiB", "pre-allocation step size")
		adminAddr    = flag.String("admin-addr", ":8090", "address the admin websocket/metrics server listens on")
		groupWrites  = flag.Bool("adaptive-group-writes", true, "batch fsyncs across concurrently-flushing writers")
		flushOnEmpty = flag.Bool("flush-when-queue-empty", true, "flush a partial batch as soon as the ingest queue drains")
	)
	flag.Parse()

	cfg := journal.DefaultConfig
	cfg.JournalDir = *journalDir
	cfg.AdaptiveGroupWrites = *groupWrites
	cfg.FlushWhenQueueEmpty = *flushOnEmpty

	if v, err := journal.ParseSize(*maxJournal); err == nil {
		cfg.MaxJournalSizeBytes = v
	} else {
		fmt.Printf("bookie: ignoring invalid -max-journal-size %q: %v\n", *maxJournal, err)
	}
	if v, err := journal.ParseSize(*prealloc); err == nil {
		cfg.PreallocSizeBytes = v
	} else {
		fmt.Printf("bookie: ignoring invalid -prealloc-size %q: %v\n", *prealloc, err)
	}

	dirs := []string{*journalDir}
	if *extraDirs != "" {
		dirs = append(dirs, strings.Split(*extraDirs, ",")...)
	}
	mgr, err := dirmgr.New(dirs)
	if err != nil {
		panic(fmt.Sprintf("bookie: directory manager: %v", err))
	}

	reg := prometheus.NewRegistry()
	sink := metrics.NewPromSink(reg, "bookie")

	j, err := journal.New(cfg, mgr, nil, sink)
	if err != nil {
		panic(fmt.Sprintf("bookie: opening journal: %v", err))
	}

	j.Start()

	if err := j.Replay(func(format journal.FormatVersion, offset int64, payload []byte) error {
		fmt.Printf("bookie: replay: offset=%d format=%d bytes=%d\n", offset, format, len(payload))
		return nil
	}); err != nil {
		fmt.Printf("bookie: replay encountered an error, continuing from last good position: %v\n", err)
	}

	srv := admin.New(*adminAddr, j, sink, 500*time.Millisecond, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			fmt.Printf("bookie: admin server stopped: %v\n", err)
		}
	}()

	// onexit wires this into the process's own signal handling (SIGINT/SIGTERM),
	// the same way storage/settings.go uses it to close the trace file on exit.
	onexit.Register(func() {
		fmt.Println("bookie: shutting down")
		_ = srv.Close()
		if err := j.Shutdown(10 * time.Second); err != nil {
			fmt.Printf("bookie: shutdown: %v\n", err)
		}
		_ = mgr.Close()
	})

	select {}
}
