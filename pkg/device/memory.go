package device

import (
	"fmt"
	"sync"

	"github.com/tartfs/tartfs/pkg/block"
)

// MemoryDevice is a block device held entirely in memory. It is used by
// tests and by tooling that builds an image before exporting it.
type MemoryDevice struct {
	mu     sync.RWMutex
	data   []byte
	blocks uint32
	closed bool
}

// NewMemory creates an in-memory device with the given number of blocks.
func NewMemory(blocks uint32) (*MemoryDevice, error) {
	if blocks == 0 {
		return nil, fmt.Errorf("device must have at least one block")
	}
	return &MemoryDevice{
		data:   make([]byte, int64(blocks)*block.Size),
		blocks: blocks,
	}, nil
}

// ReadBlock fills p with the contents of the given block.
func (d *MemoryDevice) ReadBlock(id uint32, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	if err := checkAccess(d.blocks, id, p); err != nil {
		return err
	}

	off := int64(id) * block.Size
	copy(p, d.data[off:off+block.Size])
	return nil
}

// WriteBlock replaces the contents of the given block with p.
func (d *MemoryDevice) WriteBlock(id uint32, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if err := checkAccess(d.blocks, id, p); err != nil {
		return err
	}

	off := int64(id) * block.Size
	copy(d.data[off:off+block.Size], p)
	return nil
}

// Sync is a no-op for memory devices.
func (d *MemoryDevice) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	return nil
}

// Blocks reports the device capacity in blocks.
func (d *MemoryDevice) Blocks() uint32 {
	return d.blocks
}

// Close marks the device unusable.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	return nil
}
