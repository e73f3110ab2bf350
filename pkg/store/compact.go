package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/index"
	"github.com/tartfs/tartfs/pkg/stats"
)

// DefragResult reports what a defragmentation pass accomplished.
type DefragResult struct {
	BlocksReclaimed int    `json:"blocks_reclaimed"`
	BlockCount      uint32 `json:"block_count"`
}

// Defragment compacts a file in two phases: first each partial block is
// rewritten so its live bytes form one run at offset 0, then live data is
// packed forward across blocks and fully drained blocks are released.
//
// A block is never released before its content has been copied out and
// the target durably written, so an aborted pass leaves the directory
// structurally valid, just less compact.
func (s *Store) Defragment(ctx context.Context, id uint32) (*DefragResult, error) {
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

	if err := s.compactWithin(dir); err != nil {
		return nil, err
	}

	reclaimed, tight, err := s.packAcross(dir, m.Size, m.IndexBlock)
	if err != nil {
		return nil, err
	}

	m.BlockCount = tight + 1
	m.ModifiedAt = time.Now().Unix()
	if err := s.table.Put(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	s.stats.TrackOperationWithLatency(stats.OpDefrag, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackDefragmentation()
	s.stats.TrackBlocksReclaimed(uint64(reclaimed))
	s.metrics.RecordOperation(ctx, "defragment", time.Since(start), true)
	s.metrics.RecordBlocksReclaimed(ctx, int64(reclaimed))
	s.logger.Info("defragmented file %d: %d blocks reclaimed, %d data blocks remain",
		id, reclaimed, tight)

	return &DefragResult{BlocksReclaimed: reclaimed, BlockCount: m.BlockCount}, nil
}

// compactWithin rewrites every partial block so its non-zero bytes form a
// single run at offset 0 with a zero-filled remainder. Used counts are
// untouched; only byte placement changes.
func (s *Store) compactWithin(dir *index.Directory) error {
	buf := make([]byte, block.Size)
	for i := 0; i < index.Entries; i++ {
		e := dir.At(i)
		if e.IsHole() {
			break
		}
		if e.Kind != block.KindPartial {
			continue
		}

		if err := s.dev.ReadBlock(e.ID, buf); err != nil {
			return fmt.Errorf("%w: %v", ErrIOFault, err)
		}
		if !gatherFront(buf) {
			continue
		}
		if err := s.dev.WriteBlock(e.ID, buf); err != nil {
			return fmt.Errorf("%w: %v", ErrIOFault, err)
		}
	}
	return nil
}

// gatherFront partitions buf so all non-zero bytes keep their order but
// move to the front, with zeroes after them. Returns false if the buffer
// was already partitioned.
func gatherFront(buf []byte) bool {
	w := 0
	moved := false
	for r := 0; r < len(buf); r++ {
		if buf[r] != 0 {
			if r != w {
				buf[w] = buf[r]
				buf[r] = 0
				moved = true
			}
			w++
		}
	}
	return moved
}

// packAcross walks the directory in order pulling live bytes forward into
// each partial block from later donor blocks. Fully drained donors are
// released immediately and the directory closed over them, keeping the
// contiguity invariant. Returns the number of blocks released and the
// tight count of data blocks remaining.
func (s *Store) packAcross(dir *index.Directory, size uint64, indexBlock uint32) (int, uint32, error) {
	reclaimed := 0
	var packed uint64
	pos := 0

	targetBuf := make([]byte, block.Size)
	donorBuf := make([]byte, block.Size)

	for pos < index.Entries {
		e := dir.At(pos)
		if e.IsHole() {
			break
		}
		if e.Kind == block.KindFull {
			packed += block.Size
			pos++
			if packed >= size {
				break
			}
			continue
		}

		if err := s.dev.ReadBlock(e.ID, targetBuf); err != nil {
			return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
		}
		used := int(e.Used)

		j := pos + 1
		for used < block.Size {
			donor := dir.At(j)
			if donor.IsHole() {
				break
			}
			if donor.Kind == block.KindFull {
				// A full donor has nothing to give without fragmenting
				// itself; it keeps its place.
				j++
				continue
			}

			if err := s.dev.ReadBlock(donor.ID, donorBuf); err != nil {
				return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
			}

			cnt := block.Size - used
			if int(donor.Used) < cnt {
				cnt = int(donor.Used)
			}
			copy(targetBuf[used:used+cnt], donorBuf[:cnt])

			// The target must be durable before the donor gives up its
			// bytes; a fault between the two leaves both copies intact.
			if err := s.dev.WriteBlock(e.ID, targetBuf); err != nil {
				return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
			}
			used += cnt

			if cnt == int(donor.Used) {
				if err := s.bitmap.Release(donor.ID); err != nil {
					s.logger.Warn("release of drained block %d failed: %v", donor.ID, err)
				}
				dir.ShiftLeft(j)
				reclaimed++
			} else {
				remaining := int(donor.Used) - cnt
				copy(donorBuf, donorBuf[cnt:int(donor.Used)])
				for i := remaining; i < block.Size; i++ {
					donorBuf[i] = 0
				}
				if err := s.dev.WriteBlock(donor.ID, donorBuf); err != nil {
					return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
				}
				dir.Set(j, block.Partial(donor.ID, uint32(remaining)))
			}

			dir.Set(pos, block.Make(e.ID, uint32(used)))
			if err := dir.Flush(s.dev, indexBlock); err != nil {
				return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
			}
		}

		// If the target could not be filled, every remaining donor was a
		// full block; the walk continues and counts them in place.
		packed += uint64(dir.At(pos).Live())
		pos++
		if packed >= size {
			break
		}
	}

	// Everything past the walk's end is surplus.
	for k := pos; k < index.Entries; k++ {
		e := dir.At(k)
		if e.IsHole() {
			break
		}
		if err := s.bitmap.Release(e.ID); err != nil {
			s.logger.Warn("release of surplus block %d failed: %v", e.ID, err)
		}
		dir.Set(k, block.Hole())
		reclaimed++
	}

	if err := dir.Flush(s.dev, indexBlock); err != nil {
		return reclaimed, 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}
	return reclaimed, uint32(pos), nil
}
