package aranet

import (
	"math"
	"sync/atomic"
	"time"
)

// OperationStats is a point-in-time copy of OperationMetrics
type OperationStats struct {
	Count         uint64         `json:"count"`
	SuccessCount  uint64         `json:"success_count"`
	FailureCount  uint64         `json:"failure_count"`
	TotalDuration time.Duration  `json:"total_duration"`
	MinDuration   *time.Duration `json:"min_duration,omitempty"`
	MaxDuration   *time.Duration `json:"max_duration,omitempty"`
	AvgDuration   *time.Duration `json:"avg_duration,omitempty"`
}

// OperationMetrics counts one kind of operation. Safe for concurrent use.
type OperationMetrics struct {
	count   atomic.Uint64
	success atomic.Uint64
	failure atomic.Uint64
	totalNs atomic.Int64
	minNs   atomic.Int64
	maxNs   atomic.Int64
}

func newOperationMetrics() *OperationMetrics {
	m := &OperationMetrics{}
	m.minNs.Store(math.MaxInt64)
	return m
}

// Record adds one operation outcome
func (m *OperationMetrics) Record(d time.Duration, err error) {
	m.count.Add(1)
	if err != nil {
		m.failure.Add(1)
	} else {
		m.success.Add(1)
	}
	ns := int64(d)
	m.totalNs.Add(ns)

	for cur := m.minNs.Load(); ns < cur; cur = m.minNs.Load() {
		if m.minNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for cur := m.maxNs.Load(); ns > cur; cur = m.maxNs.Load() {
		if m.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// Snapshot returns the current counters
func (m *OperationMetrics) Snapshot() OperationStats {
	s := OperationStats{
		Count:         m.count.Load(),
		SuccessCount:  m.success.Load(),
		FailureCount:  m.failure.Load(),
		TotalDuration: time.Duration(m.totalNs.Load()),
	}
	if s.Count == 0 {
		return s
	}
	minD := time.Duration(m.minNs.Load())
	maxD := time.Duration(m.maxNs.Load())
	avg := s.TotalDuration / time.Duration(s.Count)
	s.MinDuration, s.MaxDuration, s.AvgDuration = &minD, &maxD, &avg
	return s
}

// Reset clears the counters
func (m *OperationMetrics) Reset() {
	m.count.Store(0)
	m.success.Store(0)
	m.failure.Store(0)
	m.totalNs.Store(0)
	m.minNs.Store(math.MaxInt64)
	m.maxNs.Store(0)
}

// ConnectionMetrics tracks per-operation counters for one device link
type ConnectionMetrics struct {
	Connect    *OperationMetrics
	Disconnect *OperationMetrics
	Reads      *OperationMetrics
	Writes     *OperationMetrics
	Reconnects *OperationMetrics

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
	connectedAt  atomic.Int64
}

// NewConnectionMetrics creates zeroed metrics
func NewConnectionMetrics() *ConnectionMetrics {
	return &ConnectionMetrics{
		Connect:    newOperationMetrics(),
		Disconnect: newOperationMetrics(),
		Reads:      newOperationMetrics(),
		Writes:     newOperationMetrics(),
		Reconnects: newOperationMetrics(),
	}
}

func (m *ConnectionMetrics) markConnected(at time.Time) {
	m.connectedAt.Store(at.UnixNano())
}

func (m *ConnectionMetrics) markDisconnected() {
	m.connectedAt.Store(0)
}

// Uptime returns the time since the link was established, 0 when down
func (m *ConnectionMetrics) Uptime() time.Duration {
	at := m.connectedAt.Load()
	if at == 0 {
		return 0
	}
	return time.Since(time.Unix(0, at))
}

// ConnectionMetricsSummary is a snapshot of ConnectionMetrics
type ConnectionMetricsSummary struct {
	Uptime       time.Duration  `json:"uptime"`
	Connect      OperationStats `json:"connect"`
	Disconnect   OperationStats `json:"disconnect"`
	Reads        OperationStats `json:"reads"`
	Writes       OperationStats `json:"writes"`
	Reconnects   OperationStats `json:"reconnects"`
	BytesRead    uint64         `json:"bytes_read"`
	BytesWritten uint64         `json:"bytes_written"`
}

// Summary returns a snapshot of all counters
func (m *ConnectionMetrics) Summary() ConnectionMetricsSummary {
	return ConnectionMetricsSummary{
		Uptime:       m.Uptime(),
		Connect:      m.Connect.Snapshot(),
		Disconnect:   m.Disconnect.Snapshot(),
		Reads:        m.Reads.Snapshot(),
		Writes:       m.Writes.Snapshot(),
		Reconnects:   m.Reconnects.Snapshot(),
		BytesRead:    m.bytesRead.Load(),
		BytesWritten: m.bytesWritten.Load(),
	}
}
