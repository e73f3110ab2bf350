// Package meta manages per-file metadata records: logical size, directory
// capacity in use, the index block id and lifecycle timestamps. Records
// live in a fixed-slot table occupying a reserved run of blocks.
package meta

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/device"
)

const (
	// SlotSize is the on-disk size of one metadata record
	SlotSize = 64

	// SlotsPerBlock is the number of records per table block
	SlotsPerBlock = block.Size / SlotSize

	flagInUse = uint32(1)

	checksumOffset = SlotSize - 8
)

var (
	// ErrNotFound is returned when a file id has no record
	ErrNotFound = errors.New("file not found")

	// ErrCorruptRecord is returned when a record fails its checksum
	ErrCorruptRecord = errors.New("corrupt metadata record")

	// ErrTableFull is returned when every slot is in use
	ErrTableFull = errors.New("file table is full")
)

// FileMeta is one file's metadata. BlockCount tracks the directory
// capacity in use: the number of data blocks plus one for the index block
// itself, plus one (size/B + 2 after the first write).
type FileMeta struct {
	ID         uint32
	Size       uint64
	BlockCount uint32
	IndexBlock uint32
	CreatedAt  int64
	ModifiedAt int64
}

func encodeRecord(m *FileMeta, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], flagInUse)
	binary.LittleEndian.PutUint64(buf[4:12], m.Size)
	binary.LittleEndian.PutUint32(buf[12:16], m.BlockCount)
	binary.LittleEndian.PutUint32(buf[16:20], m.IndexBlock)
	binary.LittleEndian.PutUint64(buf[20:28], uint64(m.CreatedAt))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(m.ModifiedAt))
	for i := 36; i < checksumOffset; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[checksumOffset:], xxhash.Sum64(buf[:checksumOffset]))
}

func decodeRecord(id uint32, buf []byte) (*FileMeta, error) {
	flags := binary.LittleEndian.Uint32(buf[0:4])
	if flags&flagInUse == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	stored := binary.LittleEndian.Uint64(buf[checksumOffset:])
	if computed := xxhash.Sum64(buf[:checksumOffset]); stored != computed {
		return nil, fmt.Errorf("%w: id %d has checksum %x, computed %x",
			ErrCorruptRecord, id, stored, computed)
	}

	return &FileMeta{
		ID:         id,
		Size:       binary.LittleEndian.Uint64(buf[4:12]),
		BlockCount: binary.LittleEndian.Uint32(buf[12:16]),
		IndexBlock: binary.LittleEndian.Uint32(buf[16:20]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(buf[20:28])),
		ModifiedAt: int64(binary.LittleEndian.Uint64(buf[28:36])),
	}, nil
}

// BlocksFor returns how many table blocks are needed for nslots records.
func BlocksFor(nslots uint32) uint32 {
	return (nslots + SlotsPerBlock - 1) / SlotsPerBlock
}

// Table is a fixed-slot file table. File ids are slot indices.
type Table struct {
	dev    device.Device
	start  uint32
	nslots uint32
}

// NewTable opens the table stored at the given block run. It does not
// validate existing records; Get does that per record.
func NewTable(dev device.Device, start, nslots uint32) *Table {
	return &Table{dev: dev, start: start, nslots: nslots}
}

// Slots reports the table capacity.
func (t *Table) Slots() uint32 {
	return t.nslots
}

func (t *Table) locate(id uint32) (blockID uint32, offset int, err error) {
	if id >= t.nslots {
		return 0, 0, fmt.Errorf("%w: id %d of %d slots", ErrNotFound, id, t.nslots)
	}
	return t.start + id/SlotsPerBlock, int(id%SlotsPerBlock) * SlotSize, nil
}

// Get reads the record for a file id.
func (t *Table) Get(id uint32) (*FileMeta, error) {
	blockID, offset, err := t.locate(id)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, block.Size)
	if err := t.dev.ReadBlock(blockID, buf); err != nil {
		return nil, fmt.Errorf("failed to read file table: %w", err)
	}
	return decodeRecord(id, buf[offset:offset+SlotSize])
}

// Put writes the record for m.ID, creating or replacing it.
func (t *Table) Put(m *FileMeta) error {
	blockID, offset, err := t.locate(m.ID)
	if err != nil {
		return err
	}

	buf := make([]byte, block.Size)
	if err := t.dev.ReadBlock(blockID, buf); err != nil {
		return fmt.Errorf("failed to read file table: %w", err)
	}
	encodeRecord(m, buf[offset:offset+SlotSize])
	if err := t.dev.WriteBlock(blockID, buf); err != nil {
		return fmt.Errorf("failed to write file table: %w", err)
	}
	return nil
}

// Remove clears the record for a file id.
func (t *Table) Remove(id uint32) error {
	blockID, offset, err := t.locate(id)
	if err != nil {
		return err
	}

	buf := make([]byte, block.Size)
	if err := t.dev.ReadBlock(blockID, buf); err != nil {
		return fmt.Errorf("failed to read file table: %w", err)
	}
	if binary.LittleEndian.Uint32(buf[offset:offset+4])&flagInUse == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	for i := offset; i < offset+SlotSize; i++ {
		buf[i] = 0
	}
	if err := t.dev.WriteBlock(blockID, buf); err != nil {
		return fmt.Errorf("failed to write file table: %w", err)
	}
	return nil
}

// NextFree returns the lowest unused file id.
func (t *Table) NextFree() (uint32, error) {
	buf := make([]byte, block.Size)
	for blk := uint32(0); blk < BlocksFor(t.nslots); blk++ {
		if err := t.dev.ReadBlock(t.start+blk, buf); err != nil {
			return 0, fmt.Errorf("failed to read file table: %w", err)
		}
		for slot := 0; slot < SlotsPerBlock; slot++ {
			id := blk*SlotsPerBlock + uint32(slot)
			if id >= t.nslots {
				break
			}
			if binary.LittleEndian.Uint32(buf[slot*SlotSize:])&flagInUse == 0 {
				return id, nil
			}
		}
	}
	return 0, ErrTableFull
}

// List returns the metadata of every file in the table.
func (t *Table) List() ([]*FileMeta, error) {
	var out []*FileMeta
	buf := make([]byte, block.Size)
	for blk := uint32(0); blk < BlocksFor(t.nslots); blk++ {
		if err := t.dev.ReadBlock(t.start+blk, buf); err != nil {
			return nil, fmt.Errorf("failed to read file table: %w", err)
		}
		for slot := 0; slot < SlotsPerBlock; slot++ {
			id := blk*SlotsPerBlock + uint32(slot)
			if id >= t.nslots {
				break
			}
			m, err := decodeRecord(id, buf[slot*SlotSize:(slot+1)*SlotSize])
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	return out, nil
}
