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

// Package admin serves a small HTTP+WebSocket feed of journal metrics, the
// way scm/network.go's HTTPServe/websocket pairing serves a scheme REPL over
// the wire — generalized here to push periodic JSON snapshots instead of
// evaluating inbound scheme expressions.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/launix-de/bookiejournal/internal/journal"
	"github.com/launix-de/bookiejournal/internal/metrics"
)

// Snapshotter is satisfied by *metrics.PromSink; kept as an interface so
// admin doesn't force every caller into the prometheus-backed sink.
type Snapshotter interface {
	Snapshot() metrics.QuantileSnapshot
}

// Server exposes /metrics (prometheus text format, via the caller's registry
// handler) and /ws (a live JSON feed of QuantileSnapshot plus the current
// LastLogMark) over a single HTTP listener.
type Server struct {
	addr        string
	j           *journal.Journal
	snap        Snapshotter
	interval    time.Duration
	metricsMux  http.Handler

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New builds a Server; interval controls how often a connected websocket
// client receives a new snapshot. metricsHandler is typically
// promhttp.Handler() wired against the same registry the process's
// metrics.PromSink was constructed with; pass nil to skip the /metrics route.
func New(addr string, j *journal.Journal, snap Snapshotter, interval time.Duration, metricsHandler http.Handler) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{
		addr:       addr,
		j:          j,
		snap:       snap,
		interval:   interval,
		metricsMux: metricsHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Admin feed is read by same-origin operator tooling only.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type feedMessage struct {
	LogID       uint64 `json:"logId"`
	Offset      int64  `json:"offset"`
	AddP99Ns    int64  `json:"addLatencyP99Nanos"`
	FlushP99Ns  int64  `json:"flushLatencyP99Nanos"`
	BatchP50    int64  `json:"batchEntriesP50"`
	BatchBytes  int64  `json:"batchBytesP50"`
	TimestampMs int64  `json:"timestampMs"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("admin: websocket upgrade: %v\n", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		mark := s.j.LastMark()
		snap := s.snap.Snapshot()
		msg := feedMessage{
			LogID:       mark.LogID,
			Offset:      mark.Offset,
			AddP99Ns:    snap.AddLatencyP99Nanos,
			FlushP99Ns:  snap.FlushLatencyP99Nanos,
			BatchP50:    snap.BatchEntriesP50,
			BatchBytes:  snap.BatchBytesP50,
			TimestampMs: time.Now().UnixMilli(),
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

// ListenAndServe blocks serving the admin HTTP server; call in its own
// goroutine.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	if s.metricsMux != nil {
		mux.Handle("/metrics", s.metricsMux)
	}

	s.httpSrv = &http.Server{
		Addr:           s.addr,
		Handler:        mux,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   0, // websocket connections are long-lived
		MaxHeaderBytes: 1 << 20,
	}
	return s.httpSrv.ListenAndServe()
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}
