package device

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tartfs/tartfs/pkg/block"
)

// FileDevice is a block device backed by a regular file. Blocks map
// linearly onto the file at fixed offsets.
type FileDevice struct {
	file   *os.File
	blocks uint32
	closed atomic.Bool
}

// CreateFile creates (or truncates) an image file sized for the given
// number of blocks and returns a device over it.
func CreateFile(path string, blocks uint32) (*FileDevice, error) {
	if blocks == 0 {
		return nil, fmt.Errorf("device must have at least one block")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create image file: %w", err)
	}

	if err := f.Truncate(int64(blocks) * block.Size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size image file: %w", err)
	}

	return &FileDevice{file: f, blocks: blocks}, nil
}

// OpenFile opens an existing image file as a block device. The device
// capacity is derived from the file size, which must be block-aligned.
func OpenFile(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image file: %w", err)
	}

	size := info.Size()
	if size == 0 || size%block.Size != 0 {
		f.Close()
		return nil, fmt.Errorf("image file size %d is not a positive multiple of %d", size, block.Size)
	}

	return &FileDevice{file: f, blocks: uint32(size / block.Size)}, nil
}

// ReadBlock fills p with the contents of the given block.
func (d *FileDevice) ReadBlock(id uint32, p []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := checkAccess(d.blocks, id, p); err != nil {
		return err
	}

	if _, err := d.file.ReadAt(p, int64(id)*block.Size); err != nil {
		return fmt.Errorf("failed to read block %d: %w", id, err)
	}
	return nil
}

// WriteBlock replaces the contents of the given block with p.
func (d *FileDevice) WriteBlock(id uint32, p []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := checkAccess(d.blocks, id, p); err != nil {
		return err
	}

	if _, err := d.file.WriteAt(p, int64(id)*block.Size); err != nil {
		return fmt.Errorf("failed to write block %d: %w", id, err)
	}
	return nil
}

// Sync flushes outstanding writes to disk.
func (d *FileDevice) Sync() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync image file: %w", err)
	}
	return nil
}

// Blocks reports the device capacity in blocks.
func (d *FileDevice) Blocks() uint32 {
	return d.blocks
}

// Close syncs and closes the backing file.
func (d *FileDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		d.file.Close()
		return fmt.Errorf("failed to sync image file on close: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("failed to close image file: %w", err)
	}
	return nil
}
