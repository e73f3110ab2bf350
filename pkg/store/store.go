// Package store implements the block-indexed file store: fixed 4 KiB
// blocks, a per-file directory of packed entries annotating each block
// with its used-byte count, sparse reads, split-on-write updates and
// two-phase defragmentation.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tartfs/tartfs/pkg/alloc"
	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/device"
	"github.com/tartfs/tartfs/pkg/index"
	"github.com/tartfs/tartfs/pkg/meta"
	"github.com/tartfs/tartfs/pkg/stats"
)

// Store is a collection of files backed by one block device. All
// operations are safe for concurrent use; operations on the same file
// serialize on a per-file lock.
type Store struct {
	dev    device.Device
	sb     *Superblock
	bitmap *alloc.Bitmap
	table  *meta.Table

	mu     sync.Mutex
	locks  map[uint32]*sync.Mutex
	closed bool

	logger  log.Logger
	stats   stats.Collector
	metrics Metrics
}

// Option configures a Store at open time.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithStats sets the statistics collector used by the store.
func WithStats(collector stats.Collector) Option {
	return func(s *Store) { s.stats = collector }
}

// WithMetrics sets the telemetry metrics recorder used by the store.
func WithMetrics(metrics Metrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// Format initializes an empty store on the device: superblock, free
// bitmap, file table, then the free data region.
func Format(dev device.Device, maxFiles uint32) error {
	if maxFiles == 0 {
		return fmt.Errorf("max files must be positive")
	}
	// Directory entries carry 20-bit block ids; a larger device would hand
	// out ids the wire format silently truncates.
	if dev.Blocks() > block.MaxBlockID+1 {
		return fmt.Errorf("device has %d blocks, block ids address at most %d",
			dev.Blocks(), block.MaxBlockID+1)
	}

	sb := NewSuperblock(dev.Blocks(), maxFiles)
	if sb.DataStart >= sb.TotalBlocks {
		return fmt.Errorf("%w: device too small for layout (%d metadata blocks, %d total)",
			ErrOutOfSpace, sb.DataStart, sb.TotalBlocks)
	}

	bitmap := alloc.New(sb.TotalBlocks)
	if err := bitmap.MarkFree(sb.DataStart, sb.TotalBlocks-sb.DataStart); err != nil {
		return fmt.Errorf("failed to initialize bitmap: %w", err)
	}
	if err := bitmap.Flush(dev, sb.BitmapStart); err != nil {
		return err
	}

	for blk := sb.TableStart; blk < sb.TableStart+sb.TableBlocks; blk++ {
		if err := device.ZeroBlock(dev, blk); err != nil {
			return err
		}
	}

	if err := sb.Write(dev); err != nil {
		return err
	}
	return dev.Sync()
}

// Open loads a formatted store from the device.
func Open(dev device.Device, options ...Option) (*Store, error) {
	sb, err := ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}

	bitmap, err := alloc.Load(dev, sb.BitmapStart, sb.TotalBlocks)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dev:     dev,
		sb:      sb,
		bitmap:  bitmap,
		table:   meta.NewTable(dev, sb.TableStart, sb.MaxFiles),
		locks:   make(map[uint32]*sync.Mutex),
		logger:  log.GetDefaultLogger(),
		stats:   stats.NewAtomicCollector(),
		metrics: NewNoopMetrics(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.logger.Info("store opened: %d blocks, %d free, %d file slots",
		sb.TotalBlocks, bitmap.Free(), sb.MaxFiles)
	return s, nil
}

// Close flushes the bitmap and releases the device.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.closed = true

	if err := s.bitmap.Flush(s.dev, s.sb.BitmapStart); err != nil {
		return err
	}
	if err := s.dev.Sync(); err != nil {
		return err
	}
	return s.dev.Close()
}

// Sync flushes the bitmap and all completed writes to stable storage.
func (s *Store) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.bitmap.Flush(s.dev, s.sb.BitmapStart); err != nil {
		return err
	}
	return s.dev.Sync()
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// fileLock returns the lock serializing operations on one file.
func (s *Store) fileLock(id uint32) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create allocates a new empty file and returns its id.
func (s *Store) Create(ctx context.Context) (uint32, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.table.NextFree()
	if err != nil {
		s.stats.TrackError("table_full")
		return 0, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}

	indexBlock, err := s.bitmap.Allocate()
	if err != nil {
		s.stats.TrackError("out_of_space")
		return 0, fmt.Errorf("%w: %v", ErrOutOfSpace, err)
	}
	if err := device.ZeroBlock(s.dev, indexBlock); err != nil {
		s.bitmap.Release(indexBlock)
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	now := time.Now().Unix()
	m := &meta.FileMeta{
		ID:         id,
		Size:       0,
		BlockCount: 1,
		IndexBlock: indexBlock,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := s.table.Put(m); err != nil {
		s.bitmap.Release(indexBlock)
		return 0, fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	s.stats.TrackOperation(stats.OpCreate)
	s.metrics.RecordOperation(ctx, "create", time.Since(start), true)
	s.logger.Debug("created file %d with index block %d", id, indexBlock)
	return id, nil
}

// Remove deletes a file, releasing its data blocks and index block.
func (s *Store) Remove(ctx context.Context, id uint32) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	start := time.Now()

	l := s.fileLock(id)
	l.Lock()
	defer l.Unlock()

	m, err := s.getMeta(id)
	if err != nil {
		return err
	}

	dir, err := index.Load(s.dev, m.IndexBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	released := 0
	for i := 0; i < index.Entries; i++ {
		e := dir.At(i)
		if e.IsHole() {
			continue
		}
		if err := s.bitmap.Release(e.ID); err != nil {
			s.logger.Warn("release of block %d for file %d failed: %v", e.ID, id, err)
			continue
		}
		released++
	}
	if err := s.bitmap.Release(m.IndexBlock); err != nil {
		s.logger.Warn("release of index block %d for file %d failed: %v", m.IndexBlock, id, err)
	}

	if err := s.table.Remove(id); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFault, err)
	}

	s.stats.TrackOperation(stats.OpRemove)
	s.stats.TrackBlocksReclaimed(uint64(released) + 1)
	s.metrics.RecordOperation(ctx, "remove", time.Since(start), true)
	s.logger.Debug("removed file %d, released %d data blocks", id, released)
	return nil
}

// List returns the metadata of every file in the store.
func (s *Store) List(ctx context.Context) ([]*meta.FileMeta, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.table.List()
}

// FreeBlocks reports the number of unallocated blocks on the device.
func (s *Store) FreeBlocks() uint32 {
	return s.bitmap.Free()
}

// GetStats returns the store's statistics.
func (s *Store) GetStats() map[string]interface{} {
	st := s.stats.GetStats()
	st["free_blocks"] = uint64(s.bitmap.Free())
	st["total_blocks"] = uint64(s.sb.TotalBlocks)
	st["data_start"] = uint64(s.sb.DataStart)
	return st
}

func (s *Store) getMeta(id uint32) (*meta.FileMeta, error) {
	m, err := s.table.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrFileNotFound, id)
	}
	return m, nil
}

// OpenFile returns a handle for reading and writing the given file. Each
// handle carries its own position and read cursor.
func (s *Store) OpenFile(id uint32) (*Handle, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := s.getMeta(id); err != nil {
		return nil, err
	}
	return &Handle{store: s, id: id}, nil
}

// Handle is one open reference to a file. A handle is not safe for
// concurrent use; open one handle per goroutine.
type Handle struct {
	store *Store
	id    uint32
	pos   uint64

	// blocksRead counts block boundaries crossed by sequential reads;
	// reads report end-of-file once it reaches the file's block count.
	blocksRead uint32

	appendMode bool
}

// FileID returns the id of the file this handle references.
func (h *Handle) FileID() uint32 {
	return h.id
}

// Pos returns the handle's current byte position.
func (h *Handle) Pos() uint64 {
	return h.pos
}

// Seek sets the handle's byte position.
func (h *Handle) Seek(pos uint64) {
	h.pos = pos
}

// Rewind moves the position to the start of the file and resets the
// sequential read cursor.
func (h *Handle) Rewind() {
	h.pos = 0
	h.blocksRead = 0
}

// SetAppend controls whether writes always land at the end of the file.
func (h *Handle) SetAppend(enabled bool) {
	h.appendMode = enabled
}

// Size returns the file's current logical size.
func (h *Handle) Size() (uint64, error) {
	if err := h.store.checkOpen(); err != nil {
		return 0, err
	}
	m, err := h.store.getMeta(h.id)
	if err != nil {
		return 0, err
	}
	return m.Size, nil
}
