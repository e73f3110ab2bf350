// Package index implements the per-file directory of block entries: a
// fixed-length ordered extent table stored in a single block. Entries are
// logically contiguous from position 0; holes only occur at or after the
// current logical end of the file.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/device"
)

// Entries is the number of slots in a directory.
const Entries = block.IndexEntries

// Directory is the in-memory form of one file's extent table. It is loaded
// from its block, mutated, and flushed back as a unit; a directory that is
// never flushed leaves the persisted state untouched.
type Directory struct {
	words [Entries]uint32
}

// New returns an empty directory (all holes).
func New() *Directory {
	return &Directory{}
}

// Load reads the directory stored at the given block.
func Load(dev device.Device, id uint32) (*Directory, error) {
	buf := make([]byte, block.Size)
	if err := dev.ReadBlock(id, buf); err != nil {
		return nil, fmt.Errorf("failed to read index block %d: %w", id, err)
	}

	d := &Directory{}
	for i := 0; i < Entries; i++ {
		d.words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return d, nil
}

// Flush writes the directory back to its block.
func (d *Directory) Flush(dev device.Device, id uint32) error {
	buf := make([]byte, block.Size)
	for i := 0; i < Entries; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], d.words[i])
	}
	if err := dev.WriteBlock(id, buf); err != nil {
		return fmt.Errorf("failed to write index block %d: %w", id, err)
	}
	return nil
}

// At returns the unpacked entry at position i. Positions outside the
// directory read as holes.
func (d *Directory) At(i int) block.Entry {
	if i < 0 || i >= Entries {
		return block.Hole()
	}
	return block.FromWord(d.words[i])
}

// Set stores the entry at position i.
func (d *Directory) Set(i int, e block.Entry) {
	if i < 0 || i >= Entries {
		return
	}
	d.words[i] = e.Word()
}

// AllocatedCount returns the number of leading allocated entries. By the
// contiguity invariant this is the position of the first hole.
func (d *Directory) AllocatedCount() int {
	for i := 0; i < Entries; i++ {
		if d.words[i] == 0 {
			return i
		}
	}
	return Entries
}

// ShiftRight opens a gap of width by at position from: entries in
// [from, last] move to [from+by, last+by] and the vacated slots become
// holes. Entries shifted past the end of the directory are lost; the
// caller checks capacity first.
func (d *Directory) ShiftRight(from, by, last int) {
	if by <= 0 || from < 0 {
		return
	}
	for i := last; i >= from; i-- {
		if i+by < Entries {
			d.words[i+by] = d.words[i]
		}
		d.words[i] = 0
	}
}

// ShiftLeft closes the slot at position at: entries after it move down by
// one and the last slot becomes a hole.
func (d *Directory) ShiftLeft(at int) {
	if at < 0 || at >= Entries {
		return
	}
	copy(d.words[at:], d.words[at+1:])
	d.words[Entries-1] = 0
}

// LiveBytes sums the live bytes accounted for by all allocated entries.
func (d *Directory) LiveBytes() uint64 {
	var total uint64
	for i := 0; i < Entries; i++ {
		if d.words[i] == 0 {
			continue
		}
		total += uint64(block.FromWord(d.words[i]).Live())
	}
	return total
}
