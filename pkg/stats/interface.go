package stats

// Provider defines the interface for components that expose statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	// TrackOperation records a single operation
	TrackOperation(op OperationType)

	// TrackOperationWithLatency records an operation with its latency
	TrackOperationWithLatency(op OperationType, latencyNs uint64)

	// TrackError increments the counter for the specified error type
	TrackError(errorType string)

	// TrackBytes adds the specified number of bytes to the read or write counter
	TrackBytes(isWrite bool, bytes uint64)

	// TrackBlocksInserted adds to the counter of blocks inserted by splits
	TrackBlocksInserted(count uint64)

	// TrackBlocksReclaimed adds to the counter of blocks reclaimed by compaction
	TrackBlocksReclaimed(count uint64)

	// TrackDefragmentation increments the defragmentation counter
	TrackDefragmentation()
}

// Ensure AtomicCollector implements the Collector interface
var _ Collector = (*AtomicCollector)(nil)
