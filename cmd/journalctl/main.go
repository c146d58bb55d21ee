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

// journalctl is an interactive operator shell over a bookie's journal
// directory: inspect the durability frontier, replay records, and force a
// checkpoint/GC, all without standing up the full node.
package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/launix-de/bookiejournal/internal/dirmgr"
	"github.com/launix-de/bookiejournal/internal/journal"
	"github.com/launix-de/bookiejournal/internal/metrics"
)

const prompt = "\033[32mjournalctl>\033[0m "

func main() {
	dir := flag.String("journal-dir", "./journal", "journal directory to operate on")
	flag.Parse()

	mgr, err := dirmgr.New([]string{*dir})
	if err != nil {
		panic(err)
	}
	defer mgr.Close()

	cfg := journal.DefaultConfig
	cfg.JournalDir = *dir
	j, err := journal.New(cfg, mgr, nil, &metrics.NopSink{})
	if err != nil {
		panic(err)
	}
	j.Start()
	defer j.Shutdown(0)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".journalctl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("journalctl: connected to", *dir, "- type 'help' for commands")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return
		} else if err != nil {
			fmt.Println("error:", err)
			return
		}
		if dispatch(j, strings.TrimSpace(line)) {
			return
		}
	}
}

// dispatch runs one command and reports whether the REPL should exit.
func dispatch(j *journal.Journal, line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	cmd := fields[0]

	switch cmd {
	case "help":
		fmt.Println("commands: mark | replay | checkpoint [compact] | help | exit")
	case "mark":
		fmt.Println(j.LastMark())
	case "replay":
		count := 0
		err := j.Replay(func(format journal.FormatVersion, offset int64, payload []byte) error {
			count++
			fmt.Printf("  #%d offset=%d format=%d bytes=%d\n", count, offset, format, len(payload))
			return nil
		})
		if err != nil {
			fmt.Println("replay error:", err)
		}
		fmt.Printf("replayed %d record(s), mark now %s\n", count, j.LastMark())
	case "checkpoint":
		compact := len(fields) > 1 && fields[1] == "compact"
		ckpt := j.NewCheckpoint()
		if err := j.CheckpointComplete(ckpt, compact); err != nil {
			fmt.Println("checkpoint error:", err)
			return false
		}
		fmt.Println("checkpoint complete:", ckpt)
	case "exit", "quit":
		return true
	default:
		fmt.Println("unknown command:", cmd, "- type 'help'")
	}
	return false
}
