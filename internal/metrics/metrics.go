/*
Copyright (C) 2026  Carl-Philip Hänsch

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

// Package metrics is the journal's metrics sink: counters and gauges via
// prometheus/client_golang, latency/size distributions via HDR histograms.
// The sink is a named-metric registry a journal instance owns (never a
// package global), per spec.md §9's note on avoiding a singleton metrics
// registry. There is no background sampler: Snapshot reads the histograms
// on demand, each under its own mutex.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// FlushCause enumerates why the writer decided to flush a batch.
type FlushCause int

const (
	CauseMaxWait FlushCause = iota
	CauseMaxOutstandingBytes
	CauseEmptyQueue
)

func (c FlushCause) String() string {
	switch c {
	case CauseMaxWait:
		return "max_wait"
	case CauseMaxOutstandingBytes:
		return "max_outstanding_bytes"
	case CauseEmptyQueue:
		return "empty_queue"
	default:
		return "unknown"
	}
}

// Sink is the metrics contract the journal core consumes. Passed in at
// construction (never a package-global), matching spec.md §9's
// "pass a metrics handle through construction" note.
type Sink interface {
	SetQueueSize(n int)
	SetForceWriteQueueSize(n int)
	AddBytesWritten(n int64)
	ObserveAddLatencyNanos(n int64)
	ObserveFlushLatencyNanos(n int64)
	IncFlushCause(cause FlushCause)
	ObserveBatchEntries(n int64)
	ObserveBatchBytes(n int64)
	ObserveGroupForceCount(n int64)
	ObserveJournalCreationLatencyNanos(n int64)
}

// hist wraps an HDR histogram behind a mutex; hdrhistogram.Histogram is not
// safe for concurrent RecordValue calls.
type hist struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

func newHist(max int64) *hist {
	return &hist{h: hdrhistogram.New(1, max, 3)}
}

func (h *hist) observe(v int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v < 1 {
		v = 1
	}
	_ = h.h.RecordValue(v)
}

func (h *hist) valueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.h.ValueAtQuantile(q)
}

// PromSink is the production Sink: prometheus gauges/counters for the
// point-in-time and cumulative metrics spec.md §6 names, HDR histograms for
// the latency and batch-size distributions.
type PromSink struct {
	queueSize           prometheus.Gauge
	forceWriteQueueSize prometheus.Gauge
	bytesWritten        prometheus.Counter
	flushCauseCounter   *prometheus.CounterVec
	journalsRotated     prometheus.Counter

	addLatency             *hist
	flushLatency           *hist
	batchEntries           *hist
	batchBytes             *hist
	groupForceCount        *hist
	journalCreationLatency *hist
}

// NewPromSink registers its collectors on reg (pass prometheus.NewRegistry()
// in tests to avoid collisions with a process-wide default registry).
func NewPromSink(reg prometheus.Registerer, namespace string) *PromSink {
	s := &PromSink{
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ingest_queue_size",
			Help: "Number of entries waiting in the ingest queue.",
		}),
		forceWriteQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "force_write_queue_size",
			Help: "Number of requests waiting in the force-write queue.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total",
			Help: "Bytes appended to journal files.",
		}),
		flushCauseCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_cause_total",
			Help: "Count of flushes by triggering cause.",
		}, []string{"cause"}),
		journalsRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "journals_rotated_total",
			Help: "Count of journal file rotations.",
		}),
		addLatency:             newHist(10 * 1e9),
		flushLatency:           newHist(10 * 1e9),
		batchEntries:           newHist(1_000_000),
		batchBytes:             newHist(1 << 34),
		groupForceCount:        newHist(1_000_000),
		journalCreationLatency: newHist(10 * 1e9),
	}
	for _, c := range []prometheus.Collector{s.queueSize, s.forceWriteQueueSize, s.bytesWritten, s.flushCauseCounter, s.journalsRotated} {
		_ = reg.Register(c)
	}
	return s
}

func (s *PromSink) SetQueueSize(n int)                { s.queueSize.Set(float64(n)) }
func (s *PromSink) SetForceWriteQueueSize(n int)      { s.forceWriteQueueSize.Set(float64(n)) }
func (s *PromSink) AddBytesWritten(n int64)           { s.bytesWritten.Add(float64(n)) }
func (s *PromSink) ObserveAddLatencyNanos(n int64)    { s.addLatency.observe(n) }
func (s *PromSink) ObserveFlushLatencyNanos(n int64)  { s.flushLatency.observe(n) }
func (s *PromSink) ObserveBatchEntries(n int64)       { s.batchEntries.observe(n) }
func (s *PromSink) ObserveBatchBytes(n int64)         { s.batchBytes.observe(n) }
func (s *PromSink) ObserveGroupForceCount(n int64)    { s.groupForceCount.observe(n) }
func (s *PromSink) ObserveJournalCreationLatencyNanos(n int64) {
	s.journalCreationLatency.observe(n)
	s.journalsRotated.Inc()
}

func (s *PromSink) IncFlushCause(cause FlushCause) {
	s.flushCauseCounter.WithLabelValues(cause.String()).Inc()
}

// QuantileSnapshot is a point-in-time read of the histograms, used by
// internal/admin's live metrics feed.
type QuantileSnapshot struct {
	AddLatencyP99Nanos   int64
	FlushLatencyP99Nanos int64
	BatchEntriesP50      int64
	BatchBytesP50        int64
}

func (s *PromSink) Snapshot() QuantileSnapshot {
	return QuantileSnapshot{
		AddLatencyP99Nanos:   s.addLatency.valueAtQuantile(99),
		FlushLatencyP99Nanos: s.flushLatency.valueAtQuantile(99),
		BatchEntriesP50:      s.batchEntries.valueAtQuantile(50),
		BatchBytesP50:        s.batchBytes.valueAtQuantile(50),
	}
}

// NopSink discards everything; used by tests and standalone tools that don't
// want to stand up a prometheus registry.
type NopSink struct {
	queueSize, fwQueueSize int64
	bytesWritten           int64
}

func (n *NopSink) SetQueueSize(v int)           { atomic.StoreInt64(&n.queueSize, int64(v)) }
func (n *NopSink) SetForceWriteQueueSize(v int) { atomic.StoreInt64(&n.fwQueueSize, int64(v)) }
func (n *NopSink) AddBytesWritten(v int64)      { atomic.AddInt64(&n.bytesWritten, v) }
func (n *NopSink) ObserveAddLatencyNanos(int64)             {}
func (n *NopSink) ObserveFlushLatencyNanos(int64)           {}
func (n *NopSink) IncFlushCause(FlushCause)                 {}
func (n *NopSink) ObserveBatchEntries(int64)                {}
func (n *NopSink) ObserveBatchBytes(int64)                  {}
func (n *NopSink) ObserveGroupForceCount(int64)             {}
func (n *NopSink) ObserveJournalCreationLatencyNanos(int64) {}
