package xproxy

import (
	"time"
)

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for a proxy.
type Metrics struct {
	Sent              uint64
	Resolved          uint64
	Rejected          uint64
	Ignored           uint64
	TimedOut          uint64
	Errors            uint64
	Pending           int
	EventsDropped     uint64
	AvgReplyLatencyMs float64
}

// HealthStatus indicates proxy health for probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
