package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

// Common operation types
const (
	OpRead   OperationType = "read"
	OpWrite  OperationType = "write"
	OpCreate OperationType = "create"
	OpRemove OperationType = "remove"
	OpInfo   OperationType = "info"
	OpDefrag OperationType = "defrag"
	OpExport OperationType = "export"
	OpImport OperationType = "import"
)

// AtomicCollector provides centralized statistics collection with minimal
// contention using atomic operations for thread safety
type AtomicCollector struct {
	// Operation counters using atomic values
	counts   map[OperationType]*atomic.Uint64
	countsMu sync.RWMutex // Only used when creating new counter entries

	// Timing measurements for last operation timestamps
	lastOpTime   map[OperationType]time.Time
	lastOpTimeMu sync.RWMutex

	// Usage metrics
	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64
	blocksInserted    atomic.Uint64
	blocksReclaimed   atomic.Uint64
	defragCount       atomic.Uint64

	// Error tracking
	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	// Latency tracking
	latencies   map[OperationType]*LatencyTracker
	latenciesMu sync.RWMutex
}

// LatencyTracker maintains running statistics about operation latencies
type LatencyTracker struct {
	count atomic.Uint64
	sum   atomic.Uint64 // sum in nanoseconds
	max   atomic.Uint64 // max in nanoseconds
	min   atomic.Uint64 // min in nanoseconds (initialized to max uint64)
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		counts:     make(map[OperationType]*atomic.Uint64),
		lastOpTime: make(map[OperationType]time.Time),
		errors:     make(map[string]*atomic.Uint64),
		latencies:  make(map[OperationType]*LatencyTracker),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	counter := c.getOrCreateCounter(op)
	counter.Add(1)

	c.lastOpTimeMu.Lock()
	c.lastOpTime[op] = time.Now()
	c.lastOpTimeMu.Unlock()
}

// TrackOperationWithLatency records an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	c.TrackOperation(op)

	tracker := c.getOrCreateLatencyTracker(op)
	tracker.count.Add(1)
	tracker.sum.Add(latencyNs)

	for {
		current := tracker.max.Load()
		if latencyNs <= current || tracker.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}
	for {
		current := tracker.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if tracker.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackBlocksInserted adds to the counter of blocks inserted by splits
func (c *AtomicCollector) TrackBlocksInserted(count uint64) {
	c.blocksInserted.Add(count)
}

// TrackBlocksReclaimed adds to the counter of blocks reclaimed by compaction
func (c *AtomicCollector) TrackBlocksReclaimed(count uint64) {
	c.blocksReclaimed.Add(count)
}

// TrackDefragmentation increments the defragmentation counter
func (c *AtomicCollector) TrackDefragmentation() {
	c.defragCount.Add(1)
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.countsMu.RLock()
	for op, counter := range c.counts {
		stats["ops_"+string(op)] = counter.Load()
	}
	c.countsMu.RUnlock()

	c.lastOpTimeMu.RLock()
	for op, ts := range c.lastOpTime {
		stats["last_"+string(op)+"_time"] = ts.UnixNano()
	}
	c.lastOpTimeMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["blocks_inserted"] = c.blocksInserted.Load()
	stats["blocks_reclaimed"] = c.blocksReclaimed.Load()
	stats["defrag_count"] = c.defragCount.Load()

	c.errorsMu.RLock()
	for errType, counter := range c.errors {
		stats["errors_"+errType] = counter.Load()
	}
	c.errorsMu.RUnlock()

	c.latenciesMu.RLock()
	for op, tracker := range c.latencies {
		count := tracker.count.Load()
		if count == 0 {
			continue
		}
		prefix := "latency_" + string(op)
		stats[prefix+"_avg_ns"] = tracker.sum.Load() / count
		stats[prefix+"_min_ns"] = tracker.min.Load()
		stats[prefix+"_max_ns"] = tracker.max.Load()
	}
	c.latenciesMu.RUnlock()

	return stats
}

// GetStatsFiltered returns statistics matching the given prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	all := c.GetStats()
	if prefix == "" {
		return all
	}

	filtered := make(map[string]interface{})
	for key, value := range all {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateCounter(op OperationType) *atomic.Uint64 {
	c.countsMu.RLock()
	counter, exists := c.counts[op]
	c.countsMu.RUnlock()

	if !exists {
		c.countsMu.Lock()
		if counter, exists = c.counts[op]; !exists {
			counter = &atomic.Uint64{}
			c.counts[op] = counter
		}
		c.countsMu.Unlock()
	}

	return counter
}

func (c *AtomicCollector) getOrCreateLatencyTracker(op OperationType) *LatencyTracker {
	c.latenciesMu.RLock()
	tracker, exists := c.latencies[op]
	c.latenciesMu.RUnlock()

	if !exists {
		c.latenciesMu.Lock()
		if tracker, exists = c.latencies[op]; !exists {
			tracker = &LatencyTracker{}
			c.latencies[op] = tracker
		}
		c.latenciesMu.Unlock()
	}

	return tracker
}
