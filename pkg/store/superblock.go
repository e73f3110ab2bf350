package store

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/tartfs/tartfs/pkg/alloc"
	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/device"
	"github.com/tartfs/tartfs/pkg/meta"
)

const (
	// SuperblockMagic identifies a formatted image ("TARTFSSB")
	SuperblockMagic = uint64(0x5441525446535342)

	// FormatVersion is the current on-disk format version
	FormatVersion = uint32(1)

	superblockID       = uint32(0)
	superblockChecksum = 44 // offset of the trailing checksum field
)

// Superblock describes the on-disk layout of a store image. It occupies
// block 0 and is written once at format time.
type Superblock struct {
	Magic        uint64
	Version      uint32
	TotalBlocks  uint32
	BitmapStart  uint32
	BitmapBlocks uint32
	TableStart   uint32
	TableBlocks  uint32
	MaxFiles     uint32
	DataStart    uint32
}

// NewSuperblock computes the layout for a device of totalBlocks blocks
// holding up to maxFiles files: superblock, bitmap run, file table run,
// then the data region.
func NewSuperblock(totalBlocks, maxFiles uint32) *Superblock {
	bitmapStart := uint32(1)
	bitmapBlocks := alloc.BlocksFor(totalBlocks)
	tableStart := bitmapStart + bitmapBlocks
	tableBlocks := meta.BlocksFor(maxFiles)

	return &Superblock{
		Magic:        SuperblockMagic,
		Version:      FormatVersion,
		TotalBlocks:  totalBlocks,
		BitmapStart:  bitmapStart,
		BitmapBlocks: bitmapBlocks,
		TableStart:   tableStart,
		TableBlocks:  tableBlocks,
		MaxFiles:     maxFiles,
		DataStart:    tableStart + tableBlocks,
	}
}

// Write serializes the superblock into block 0 with a trailing checksum
// over the encoded fields.
func (sb *Superblock) Write(dev device.Device) error {
	buf := make([]byte, block.Size)
	binary.LittleEndian.PutUint64(buf[0:8], sb.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], sb.Version)
	binary.LittleEndian.PutUint32(buf[12:16], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[16:20], sb.BitmapStart)
	binary.LittleEndian.PutUint32(buf[20:24], sb.BitmapBlocks)
	binary.LittleEndian.PutUint32(buf[24:28], sb.TableStart)
	binary.LittleEndian.PutUint32(buf[28:32], sb.TableBlocks)
	binary.LittleEndian.PutUint32(buf[32:36], sb.MaxFiles)
	binary.LittleEndian.PutUint32(buf[36:40], sb.DataStart)
	binary.LittleEndian.PutUint64(buf[superblockChecksum:],
		xxhash.Sum64(buf[:superblockChecksum]))

	if err := dev.WriteBlock(superblockID, buf); err != nil {
		return fmt.Errorf("failed to write superblock: %w", err)
	}
	return nil
}

// ReadSuperblock loads and validates the superblock from block 0.
func ReadSuperblock(dev device.Device) (*Superblock, error) {
	buf := make([]byte, block.Size)
	if err := dev.ReadBlock(superblockID, buf); err != nil {
		return nil, fmt.Errorf("failed to read superblock: %w", err)
	}

	stored := binary.LittleEndian.Uint64(buf[superblockChecksum:])
	if computed := xxhash.Sum64(buf[:superblockChecksum]); stored != computed {
		return nil, fmt.Errorf("%w: checksum mismatch, stored %x computed %x",
			ErrCorruptSuperblock, stored, computed)
	}

	sb := &Superblock{
		Magic:        binary.LittleEndian.Uint64(buf[0:8]),
		Version:      binary.LittleEndian.Uint32(buf[8:12]),
		TotalBlocks:  binary.LittleEndian.Uint32(buf[12:16]),
		BitmapStart:  binary.LittleEndian.Uint32(buf[16:20]),
		BitmapBlocks: binary.LittleEndian.Uint32(buf[20:24]),
		TableStart:   binary.LittleEndian.Uint32(buf[24:28]),
		TableBlocks:  binary.LittleEndian.Uint32(buf[28:32]),
		MaxFiles:     binary.LittleEndian.Uint32(buf[32:36]),
		DataStart:    binary.LittleEndian.Uint32(buf[36:40]),
	}

	if sb.Magic != SuperblockMagic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorruptSuperblock, sb.Magic)
	}
	if sb.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSuperblock, sb.Version)
	}
	if sb.TotalBlocks > block.MaxBlockID+1 {
		return nil, fmt.Errorf("%w: %d blocks exceeds the %d a block id can address",
			ErrCorruptSuperblock, sb.TotalBlocks, block.MaxBlockID+1)
	}
	if sb.TotalBlocks != dev.Blocks() {
		return nil, fmt.Errorf("%w: superblock says %d blocks, device has %d",
			ErrCorruptSuperblock, sb.TotalBlocks, dev.Blocks())
	}
	if sb.DataStart >= sb.TotalBlocks {
		return nil, fmt.Errorf("%w: data region starts at %d of %d blocks",
			ErrCorruptSuperblock, sb.DataStart, sb.TotalBlocks)
	}

	return sb, nil
}
