package mcconn

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// TransferStats contains the traffic counters of one connection.
// All fields are safe for concurrent access.
//
// Struct is sized to fit within a single cache line (64 bytes).
type TransferStats struct {
	Operations      uint64 // Typed operations executed
	Errors          uint64 // Operations answered with a non-success status
	TransportErrors uint64 // Operations failed on the socket
	FramesSent      uint64
	FramesReceived  uint64
	BytesSent       uint64
	BytesReceived   uint64
	Reconnects      uint64
}

// statsCollector updates a TransferStats and, when a metrics set is
// configured, mirrors operations into it.
type statsCollector struct {
	stats    *TransferStats
	set      *metrics.Set
	protocol string
}

func newStatsCollector(set *metrics.Set, protocol string) *statsCollector {
	return &statsCollector{
		stats:    &TransferStats{},
		set:      set,
		protocol: protocol,
	}
}

func (c *statsCollector) recordOperation(op string, start time.Time, err error) {
	atomic.AddUint64(&c.stats.Operations, 1)

	var status string
	switch {
	case err == nil:
		status = "ok"
	case ShouldCloseConnection(err):
		atomic.AddUint64(&c.stats.TransportErrors, 1)
		status = "transport_error"
	default:
		atomic.AddUint64(&c.stats.Errors, 1)
		status = "error"
	}

	if c.set == nil {
		return
	}
	c.set.GetOrCreateCounter(fmt.Sprintf(`mcconn_operations_total{protocol=%q,op=%q,status=%q}`, c.protocol, op, status)).Inc()
	c.set.GetOrCreateHistogram(fmt.Sprintf(`mcconn_operation_duration_seconds{protocol=%q,op=%q}`, c.protocol, op)).UpdateDuration(start)
}

func (c *statsCollector) recordFrameSent() {
	atomic.AddUint64(&c.stats.FramesSent, 1)
}

func (c *statsCollector) recordFrameReceived() {
	atomic.AddUint64(&c.stats.FramesReceived, 1)
}

func (c *statsCollector) recordBytesSent(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&c.stats.BytesSent, uint64(n))
	if c.set != nil {
		c.set.GetOrCreateCounter(fmt.Sprintf(`mcconn_bytes_sent_total{protocol=%q}`, c.protocol)).Add(n)
	}
}

func (c *statsCollector) recordBytesReceived(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&c.stats.BytesReceived, uint64(n))
	if c.set != nil {
		c.set.GetOrCreateCounter(fmt.Sprintf(`mcconn_bytes_received_total{protocol=%q}`, c.protocol)).Add(n)
	}
}

func (c *statsCollector) recordReconnect() {
	atomic.AddUint64(&c.stats.Reconnects, 1)
}

func (c *statsCollector) snapshot() TransferStats {
	return TransferStats{
		Operations:      atomic.LoadUint64(&c.stats.Operations),
		Errors:          atomic.LoadUint64(&c.stats.Errors),
		TransportErrors: atomic.LoadUint64(&c.stats.TransportErrors),
		FramesSent:      atomic.LoadUint64(&c.stats.FramesSent),
		FramesReceived:  atomic.LoadUint64(&c.stats.FramesReceived),
		BytesSent:       atomic.LoadUint64(&c.stats.BytesSent),
		BytesReceived:   atomic.LoadUint64(&c.stats.BytesReceived),
		Reconnects:      atomic.LoadUint64(&c.stats.Reconnects),
	}
}
