package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/index"
	"github.com/tartfs/tartfs/pkg/stats"
)

// BlockInfo describes one allocated directory entry.
type BlockInfo struct {
	Position  int    `json:"position"`
	BlockID   uint32 `json:"block_id"`
	UsedBytes uint32 `json:"used_bytes"`
	Full      bool   `json:"full"`
}

// FileInfo is the diagnostic view of one file's block usage.
type FileInfo struct {
	FileID        uint32      `json:"file_id"`
	Size          uint64      `json:"size"`
	BlockCount    uint32      `json:"block_count"`
	UsedBlocks    int         `json:"used_blocks"`
	PartialBlocks int         `json:"partial_blocks"`
	WastedBytes   uint64      `json:"wasted_bytes"`
	Blocks        []BlockInfo `json:"blocks"`
}

// GetInfo scans a file's directory and reports, per allocated block, its
// id and used-byte count, plus the number of partially filled blocks and
// the total bytes of internal fragmentation. The scan mutates nothing.
func (s *Store) GetInfo(ctx context.Context, id uint32) (*FileInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()

	l := s.fileLock(id)
	l.Lock()
	defer l.Unlock()

	m, err := s.getMeta(id)
	if err != nil {
		return nil, err
	}

	dir, err := index.Load(s.dev, m.IndexBlock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	info := &FileInfo{
		FileID:     id,
		Size:       m.Size,
		BlockCount: m.BlockCount,
	}
	for i := 0; i < index.Entries; i++ {
		e := dir.At(i)
		if e.IsHole() {
			continue
		}
		info.UsedBlocks++
		bi := BlockInfo{
			Position:  i,
			BlockID:   e.ID,
			UsedBytes: e.Live(),
			Full:      e.Kind == block.KindFull,
		}
		if e.Kind == block.KindPartial {
			info.PartialBlocks++
			info.WastedBytes += uint64(block.Size - e.Used)
		}
		info.Blocks = append(info.Blocks, bi)
	}

	s.stats.TrackOperation(stats.OpInfo)
	s.metrics.RecordOperation(ctx, "get_info", time.Since(start), true)
	return info, nil
}
