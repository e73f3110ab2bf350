package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/index"
	"github.com/tartfs/tartfs/pkg/meta"
	"github.com/tartfs/tartfs/pkg/stats"
)

// Write stores bytes at the handle's position, touching at most one data
// block per call. If live data sits at or after the position inside the
// target block, it is displaced into freshly inserted blocks before the
// new bytes land, so no previously written byte is ever silently
// overwritten past the span the caller addressed.
//
// Returns the number of bytes written this call; callers writing spans
// that cross block boundaries invoke Write repeatedly.
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	s := h.store
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	start := time.Now()

	l := s.fileLock(h.id)
	l.Lock()
	defer l.Unlock()

	m, err := s.getMeta(h.id)
	if err != nil {
		return 0, err
	}

	if h.appendMode {
		h.pos = m.Size
	}
	pos := h.pos

	if pos+uint64(len(p)) > block.MaxFileSize {
		s.stats.TrackError("out_of_space")
		return 0, fmt.Errorf("%w: write ends at %d, limit is %d",
			ErrOutOfSpace, pos+uint64(len(p)), block.MaxFileSize)
	}
	if err := s.checkFreeEstimate(pos, uint64(len(p)), m); err != nil {
		return 0, err
	}

	dir, err := index.Load(s.dev, m.IndexBlock)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	idx := int(pos / block.Size)
	offset := int(pos % block.Size)
	n := len(p)
	if n > block.Size-offset {
		n = block.Size - offset
	}

	// Blocks allocated by this call, released together if it aborts.
	var allocated []uint32
	abort := func(err error) (int, error) {
		for _, id := range allocated {
			s.bitmap.Release(id)
		}
		return 0, err
	}

	e := dir.At(idx)
	holeFilled := e.IsHole()
	var target uint32
	var live int
	buf := make([]byte, block.Size)
	if e.IsHole() {
		id, aerr := s.bitmap.Allocate()
		if aerr != nil {
			s.stats.TrackError("out_of_space")
			return 0, fmt.Errorf("%w: %v", ErrOutOfSpace, aerr)
		}
		allocated = append(allocated, id)
		// buf is all zeroes and is written over the block below, so the
		// fresh block needs no separate cleaning pass.
		target, live = id, 0
	} else {
		target, live = e.ID, int(e.Live())
		if err := s.dev.ReadBlock(target, buf); err != nil {
			s.stats.TrackError("io_fault")
			return abort(fmt.Errorf("%w: %v", ErrIOFault, err))
		}
		if e.Kind == block.KindFull {
			// A block inserted by a spanning write carries a full-block
			// entry before its bytes arrive; the entry alone cannot size
			// the live region, so it comes from the content just read.
			live = liveExtent(buf)
		}
	}

	// Displacement check: the first run of live bytes at or after the
	// write position must be rehoused before the payload lands.
	runStart, runLen := scanFragment(buf, offset)
	inserted := 0
	if runLen > 0 {
		blocksNeeded := (len(p)+offset)/block.Size + 1
		if blocksNeeded+int(m.BlockCount) > index.Entries-1 {
			s.stats.TrackError("out_of_space")
			return abort(fmt.Errorf("%w: split needs %d more entries in a directory of %d",
				ErrOutOfSpace, blocksNeeded, index.Entries))
		}

		dir.ShiftRight(idx+1, blocksNeeded, int(m.BlockCount)-2)
		for k := blocksNeeded; k >= 1; k-- {
			id, aerr := s.bitmap.Allocate()
			if aerr != nil {
				s.stats.TrackError("out_of_space")
				return abort(fmt.Errorf("%w: %v", ErrOutOfSpace, aerr))
			}
			allocated = append(allocated, id)
			if err := s.zeroBlock(id); err != nil {
				return abort(err)
			}
			dir.Set(idx+k, block.Full(id))
		}

		// The displaced run moves to the front of the last inserted block.
		last := dir.At(idx + blocksNeeded)
		spill := make([]byte, block.Size)
		copy(spill, buf[runStart:runStart+runLen])
		if err := s.dev.WriteBlock(last.ID, spill); err != nil {
			s.stats.TrackError("io_fault")
			return abort(fmt.Errorf("%w: %v", ErrIOFault, err))
		}
		dir.Set(idx+blocksNeeded, block.Make(last.ID, uint32(runLen)))

		for i := runStart; i < runStart+runLen; i++ {
			buf[i] = 0
		}
		live -= runLen
		inserted = blocksNeeded
	}

	copy(buf[offset:], p[:n])
	if err := s.dev.WriteBlock(target, buf); err != nil {
		s.stats.TrackError("io_fault")
		return abort(fmt.Errorf("%w: %v", ErrIOFault, err))
	}

	// The live region grows only when the write extends past it; writes
	// landing inside it replace bytes without changing the accounting.
	used := live
	if offset+n > used {
		used = offset + n
	}
	dir.Set(idx, block.Make(target, uint32(used)))

	newSize := m.Size
	if pos+uint64(n) > newSize {
		newSize = pos + uint64(n)
	}

	// The capacity counter bounds the read cursor: it must cover every
	// block a sequential read can consume. The first write derives it
	// from the new size; later writes grow it by the blocks this call
	// added, whether inserted by a split or allocated for a hole.
	oldCount := m.BlockCount
	newCount := oldCount
	if oldCount <= 1 {
		newCount = uint32(newSize/block.Size) + 2
	} else {
		newCount += uint32(inserted)
		if holeFilled {
			newCount++
		}
	}

	// Defensive shrink: a smaller count releases the trailing entries it
	// no longer covers.
	if newCount < oldCount {
		for i := int(newCount) - 1; i < int(oldCount)-1; i++ {
			te := dir.At(i)
			if te.IsHole() {
				continue
			}
			if err := s.bitmap.Release(te.ID); err != nil {
				s.logger.Warn("shrink release of block %d failed: %v", te.ID, err)
			}
			dir.Set(i, block.Hole())
		}
	}

	if err := dir.Flush(s.dev, m.IndexBlock); err != nil {
		s.stats.TrackError("io_fault")
		return abort(fmt.Errorf("%w: %v", ErrIOFault, err))
	}

	m.Size = newSize
	m.BlockCount = newCount
	m.ModifiedAt = time.Now().Unix()
	if err := s.table.Put(m); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	h.pos = pos + uint64(n)

	s.stats.TrackOperationWithLatency(stats.OpWrite, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackBytes(true, uint64(n))
	if inserted > 0 {
		s.stats.TrackBlocksInserted(uint64(inserted))
		s.metrics.RecordBlocksInserted(ctx, int64(inserted))
		s.logger.Debug("write split file %d at block %d: %d displaced bytes, %d blocks inserted",
			h.id, idx, runLen, inserted)
	}
	s.metrics.RecordOperation(ctx, "write", time.Since(start), true)
	s.metrics.RecordBytes(ctx, "write", int64(n))
	return n, nil
}

// WriteAll writes the whole buffer at the handle's position, issuing as
// many block-bounded calls as the span requires.
func (h *Handle) WriteAll(ctx context.Context, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := h.Write(ctx, p[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("%w: write made no progress", ErrIOFault)
		}
		total += n
	}
	return total, nil
}

// checkFreeEstimate rejects a write whose worst-case block demand exceeds
// the allocator's free count.
func (s *Store) checkFreeEstimate(pos, length uint64, m *meta.FileMeta) error {
	end := pos + length
	if m.Size > end {
		end = m.Size
	}
	needed := uint32(end / block.Size)
	if needed > m.BlockCount-1 {
		needed -= m.BlockCount - 1
	} else {
		needed = 0
	}
	if needed > s.bitmap.Free() {
		s.stats.TrackError("out_of_space")
		return fmt.Errorf("%w: estimated %d new blocks, %d free",
			ErrOutOfSpace, needed, s.bitmap.Free())
	}
	return nil
}

// liveExtent returns the index one past the last non-zero byte in a
// block buffer, 0 when the block holds nothing.
func liveExtent(buf []byte) int {
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] != 0 {
			return i + 1
		}
	}
	return 0
}

// zeroBlock writes zeroes over a freshly allocated block.
func (s *Store) zeroBlock(id uint32) error {
	var zero [block.Size]byte
	if err := s.dev.WriteBlock(id, zero[:]); err != nil {
		s.stats.TrackError("io_fault")
		return fmt.Errorf("%w: %v", ErrIOFault, err)
	}
	return nil
}
