// Package alloc implements the free-block bitmap allocator. One bit per
// physical block: set means free. The bitmap itself lives in a reserved
// run of blocks on the device.
package alloc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/device"
)

var (
	// ErrExhausted is returned when no free block remains
	ErrExhausted = errors.New("no free blocks")

	// ErrBadBlockID is returned for release/reserve outside the managed range
	ErrBadBlockID = errors.New("block id outside managed range")
)

// BlocksFor returns how many bitmap blocks are needed to track n blocks.
func BlocksFor(n uint32) uint32 {
	bitsPerBlock := uint32(block.Size * 8)
	return (n + bitsPerBlock - 1) / bitsPerBlock
}

// Bitmap tracks the free/allocated state of every block on a device.
type Bitmap struct {
	mu    sync.Mutex
	words []uint64
	nbits uint32
	free  uint32
}

// New creates a bitmap managing nbits blocks, all initially allocated.
// Callers release the data region after reserving the layout they need.
func New(nbits uint32) *Bitmap {
	nwords := (nbits + 63) / 64
	return &Bitmap{
		words: make([]uint64, nwords),
		nbits: nbits,
	}
}

// Allocate returns the id of a free block, marking it allocated.
// The scan is first-fit from the start of the device.
func (b *Bitmap) Allocate() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, w := range b.words {
		if w == 0 {
			continue
		}
		bit := uint32(bits.TrailingZeros64(w))
		id := uint32(i)*64 + bit
		if id >= b.nbits {
			break
		}
		b.words[i] &^= 1 << bit
		b.free--
		return id, nil
	}
	return 0, ErrExhausted
}

// Release marks the given block free again.
func (b *Bitmap) Release(id uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id >= b.nbits {
		return fmt.Errorf("%w: %d", ErrBadBlockID, id)
	}
	word, bit := id/64, id%64
	if b.words[word]&(1<<bit) != 0 {
		return fmt.Errorf("double release of block %d", id)
	}
	b.words[word] |= 1 << bit
	b.free++
	return nil
}

// MarkFree releases a contiguous run of blocks, used when formatting.
func (b *Bitmap) MarkFree(start, count uint32) error {
	for id := start; id < start+count; id++ {
		if err := b.Release(id); err != nil {
			return err
		}
	}
	return nil
}

// Free reports the number of free blocks.
func (b *Bitmap) Free() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free
}

// IsFree reports whether the given block is free.
func (b *Bitmap) IsFree(id uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id >= b.nbits {
		return false
	}
	return b.words[id/64]&(1<<(id%64)) != 0
}

// Flush writes the bitmap into its reserved run of blocks starting at
// start. Words are stored little-endian.
func (b *Bitmap) Flush(dev device.Device, start uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := make([]byte, block.Size)
	wordsPerBlock := block.Size / 8
	nblocks := BlocksFor(b.nbits)

	for blk := uint32(0); blk < nblocks; blk++ {
		for i := range buf {
			buf[i] = 0
		}
		base := int(blk) * wordsPerBlock
		for i := 0; i < wordsPerBlock && base+i < len(b.words); i++ {
			binary.LittleEndian.PutUint64(buf[i*8:], b.words[base+i])
		}
		if err := dev.WriteBlock(start+blk, buf); err != nil {
			return fmt.Errorf("failed to flush bitmap block %d: %w", blk, err)
		}
	}
	return nil
}

// Load reads a bitmap for nbits blocks from its reserved run starting at
// start.
func Load(dev device.Device, start, nbits uint32) (*Bitmap, error) {
	b := New(nbits)
	buf := make([]byte, block.Size)
	wordsPerBlock := block.Size / 8
	nblocks := BlocksFor(nbits)

	var free uint32
	for blk := uint32(0); blk < nblocks; blk++ {
		if err := dev.ReadBlock(start+blk, buf); err != nil {
			return nil, fmt.Errorf("failed to load bitmap block %d: %w", blk, err)
		}
		base := int(blk) * wordsPerBlock
		for i := 0; i < wordsPerBlock && base+i < len(b.words); i++ {
			w := binary.LittleEndian.Uint64(buf[i*8:])
			b.words[base+i] = w
			free += uint32(bits.OnesCount64(w))
		}
	}

	b.free = free
	return b, nil
}
