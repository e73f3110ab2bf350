package stats

import (
	"sync"
	"testing"
)

func TestTrackOperation(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackOperation(OpRead)
	c.TrackOperation(OpRead)
	c.TrackOperation(OpWrite)

	stats := c.GetStats()
	if stats["ops_read"] != uint64(2) {
		t.Errorf("Expected 2 reads, got %v", stats["ops_read"])
	}
	if stats["ops_write"] != uint64(1) {
		t.Errorf("Expected 1 write, got %v", stats["ops_write"])
	}
	if _, ok := stats["last_read_time"]; !ok {
		t.Error("Expected last_read_time to be tracked")
	}
}

func TestTrackBytes(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackBytes(false, 100)
	c.TrackBytes(false, 50)
	c.TrackBytes(true, 10)

	stats := c.GetStats()
	if stats["total_bytes_read"] != uint64(150) {
		t.Errorf("Expected 150 bytes read, got %v", stats["total_bytes_read"])
	}
	if stats["total_bytes_written"] != uint64(10) {
		t.Errorf("Expected 10 bytes written, got %v", stats["total_bytes_written"])
	}
}

func TestTrackLatency(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackOperationWithLatency(OpDefrag, 100)
	c.TrackOperationWithLatency(OpDefrag, 300)

	stats := c.GetStats()
	if stats["latency_defrag_avg_ns"] != uint64(200) {
		t.Errorf("Expected average latency 200, got %v", stats["latency_defrag_avg_ns"])
	}
	if stats["latency_defrag_min_ns"] != uint64(100) {
		t.Errorf("Expected min latency 100, got %v", stats["latency_defrag_min_ns"])
	}
	if stats["latency_defrag_max_ns"] != uint64(300) {
		t.Errorf("Expected max latency 300, got %v", stats["latency_defrag_max_ns"])
	}
}

func TestTrackErrors(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackError("out_of_space")
	c.TrackError("out_of_space")
	c.TrackError("io_fault")

	stats := c.GetStats()
	if stats["errors_out_of_space"] != uint64(2) {
		t.Errorf("Expected 2 out_of_space errors, got %v", stats["errors_out_of_space"])
	}
	if stats["errors_io_fault"] != uint64(1) {
		t.Errorf("Expected 1 io_fault error, got %v", stats["errors_io_fault"])
	}
}

func TestGetStatsFiltered(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackOperation(OpRead)
	c.TrackError("io_fault")

	filtered := c.GetStatsFiltered("errors_")
	if len(filtered) != 1 {
		t.Errorf("Expected 1 filtered stat, got %d", len(filtered))
	}
	if _, ok := filtered["errors_io_fault"]; !ok {
		t.Error("Expected errors_io_fault in filtered stats")
	}
}

func TestConcurrentTracking(t *testing.T) {
	c := NewAtomicCollector()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.TrackOperation(OpWrite)
				c.TrackBytes(true, 1)
			}
		}()
	}
	wg.Wait()

	stats := c.GetStats()
	if stats["ops_write"] != uint64(8000) {
		t.Errorf("Expected 8000 writes, got %v", stats["ops_write"])
	}
	if stats["total_bytes_written"] != uint64(8000) {
		t.Errorf("Expected 8000 bytes written, got %v", stats["total_bytes_written"])
	}
}

func TestDefragCounters(t *testing.T) {
	c := NewAtomicCollector()

	c.TrackDefragmentation()
	c.TrackBlocksReclaimed(3)
	c.TrackBlocksInserted(2)

	stats := c.GetStats()
	if stats["defrag_count"] != uint64(1) {
		t.Errorf("Expected 1 defragmentation, got %v", stats["defrag_count"])
	}
	if stats["blocks_reclaimed"] != uint64(3) {
		t.Errorf("Expected 3 reclaimed blocks, got %v", stats["blocks_reclaimed"])
	}
	if stats["blocks_inserted"] != uint64(2) {
		t.Errorf("Expected 2 inserted blocks, got %v", stats["blocks_inserted"])
	}
}
