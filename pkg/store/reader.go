package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/index"
	"github.com/tartfs/tartfs/pkg/stats"
)

// Read delivers the next fragment of live data at the handle's position.
// A partial block yields its first contiguous run of non-zero bytes at or
// after the position; a full block yields everything from the position to
// the block's end. The returned count is the fragment length; 0 means
// either end-of-file or no live data under the position.
//
// The destination must be large enough for the whole fragment; fragments
// are never split across calls. ErrCopyFault reports a short buffer.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	s := h.store
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()

	l := s.fileLock(h.id)
	l.Lock()
	defer l.Unlock()

	m, err := s.getMeta(h.id)
	if err != nil {
		return 0, err
	}

	// The read cursor marks end-of-file once every data block has been
	// consumed. It resets so the next sequential pass starts fresh.
	if m.BlockCount <= 1 || h.blocksRead >= m.BlockCount-1 {
		h.blocksRead = 0
		return 0, nil
	}

	pos := h.pos
	idx := int(pos / block.Size)
	offset := int(pos % block.Size)

	dir, err := index.Load(s.dev, m.IndexBlock)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	e := dir.At(idx)
	if e.IsHole() {
		return 0, nil
	}

	buf := make([]byte, block.Size)
	if err := s.dev.ReadBlock(e.ID, buf); err != nil {
		s.stats.TrackError("io_fault")
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	var fragStart, fragLen int
	if e.Kind == block.KindFull {
		fragStart = offset
		fragLen = block.Size - offset
	} else {
		fragStart, fragLen = scanFragment(buf, offset)
	}

	if fragLen > len(p) {
		s.stats.TrackError("copy_fault")
		return 0, fmt.Errorf("%w: fragment is %d bytes, buffer holds %d",
			ErrCopyFault, fragLen, len(p))
	}
	copy(p, buf[fragStart:fragStart+fragLen])

	// A full block is consumed to its end whatever the start offset; a
	// partial block is consumed once its whole live run has been copied.
	h.pos += uint64(fragLen)
	if e.Kind == block.KindFull || uint32(fragLen) >= e.Live() {
		h.blocksRead++
		h.pos = uint64(idx+1) * block.Size
	}

	s.stats.TrackOperationWithLatency(stats.OpRead, uint64(time.Since(start).Nanoseconds()))
	s.stats.TrackBytes(false, uint64(fragLen))
	s.metrics.RecordOperation(ctx, "read", time.Since(start), true)
	s.metrics.RecordBytes(ctx, "read", int64(fragLen))
	return fragLen, nil
}

// ReadAll reads the file's live data from the start as one contiguous
// byte slice, skipping the zero padding that separates fragments. A
// zero-length read marks end-of-file, matching how sequential callers
// consume the read contract.
func (h *Handle) ReadAll(ctx context.Context) ([]byte, error) {
	saved, savedCursor := h.pos, h.blocksRead
	h.Rewind()
	defer func() {
		h.pos, h.blocksRead = saved, savedCursor
	}()

	var out []byte
	buf := make([]byte, block.Size)
	for {
		n, err := h.Read(ctx, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
}

// scanFragment finds the first contiguous run of non-zero bytes in buf at
// or after offset. It returns the run's start and length; a zero length
// means no live byte remains at or after offset.
func scanFragment(buf []byte, offset int) (int, int) {
	i := offset
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	start := i
	for i < len(buf) && buf[i] != 0 {
		i++
	}
	return start, i - start
}
