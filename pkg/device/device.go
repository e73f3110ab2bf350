// Package device provides fixed-size block access to a backing image,
// either a regular file or an in-memory buffer.
package device

import (
	"errors"
	"fmt"

	"github.com/tartfs/tartfs/pkg/block"
)

var (
	// ErrOutOfRange is returned when a block id is beyond the device
	ErrOutOfRange = errors.New("block id out of range")

	// ErrBadBuffer is returned when a caller buffer is not exactly one block
	ErrBadBuffer = errors.New("buffer must be exactly one block")

	// ErrClosed is returned when operating on a closed device
	ErrClosed = errors.New("device is closed")
)

// Device is synchronous block storage. Reads and writes move exactly one
// block; Sync makes all completed writes durable before returning.
type Device interface {
	// ReadBlock fills p with the contents of the given block
	ReadBlock(id uint32, p []byte) error

	// WriteBlock replaces the contents of the given block with p
	WriteBlock(id uint32, p []byte) error

	// Sync flushes outstanding writes to stable storage
	Sync() error

	// Blocks reports the device capacity in blocks
	Blocks() uint32

	// Close releases the device; further operations fail
	Close() error
}

// ZeroBlock writes a block of zeroes at the given id.
func ZeroBlock(d Device, id uint32) error {
	var zero [block.Size]byte
	if err := d.WriteBlock(id, zero[:]); err != nil {
		return fmt.Errorf("failed to zero block %d: %w", id, err)
	}
	return nil
}

func checkAccess(blocks, id uint32, p []byte) error {
	if id >= blocks {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, id, blocks)
	}
	if len(p) != block.Size {
		return fmt.Errorf("%w: got %d bytes", ErrBadBuffer, len(p))
	}
	return nil
}
