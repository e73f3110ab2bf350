// Package block defines the store's block geometry and the packed directory
// entry format that annotates each data block with its used-byte count.
package block

const (
	// Size is the fixed size of every storage block in bytes
	Size = 4096

	// IndexEntries is the number of directory entries that fit in one block
	IndexEntries = Size / 4

	// MaxFileSize is the largest logical file size a single directory can address
	MaxFileSize = uint64(IndexEntries) * Size

	// MaxBlockID is the largest physical block id representable in an entry
	MaxBlockID = 1<<20 - 1

	blockIDBits = 20
	blockIDMask = uint32(1<<blockIDBits - 1)
)

// EncodeWord packs a (block id, used size) pair into the 32-bit wire form:
// the used size occupies the high 12 bits, the block id the low 20.
// usedSize must already be reduced mod Size; a block holding exactly Size
// live bytes encodes a used size of 0.
func EncodeWord(blockID, usedSize uint32) uint32 {
	return (usedSize << blockIDBits) | (blockID & blockIDMask)
}

// WordBlockID extracts the physical block id from a packed entry word.
func WordBlockID(word uint32) uint32 {
	return word & blockIDMask
}

// WordUsedSize extracts the used-size field from a packed entry word.
func WordUsedSize(word uint32) uint32 {
	return word >> blockIDBits
}

// Kind discriminates the three states a directory entry can be in. The
// packed wire form conflates two of them: a word of zero is a hole, but a
// non-zero word with a zero used-size field is a completely full block.
// Callers must never compare the raw word against zero to test fullness.
type Kind uint8

const (
	// KindHole marks a logical position with no backing block
	KindHole Kind = iota
	// KindPartial marks a block with 1..Size-1 live bytes
	KindPartial
	// KindFull marks a block with exactly Size live bytes
	KindFull
)

// String returns the name of the entry kind.
func (k Kind) String() string {
	switch k {
	case KindHole:
		return "hole"
	case KindPartial:
		return "partial"
	case KindFull:
		return "full"
	default:
		return "invalid"
	}
}

// Entry is the unpacked form of one directory slot. The zero value is a
// hole. ID is only meaningful when Kind is not KindHole; Used is only
// meaningful when Kind is KindPartial.
type Entry struct {
	ID   uint32
	Used uint32
	Kind Kind
}

// Hole returns the entry for an unallocated logical position.
func Hole() Entry {
	return Entry{}
}

// Partial returns an entry for a block with used live bytes, 0 < used < Size.
func Partial(id, used uint32) Entry {
	return Entry{ID: id, Used: used, Kind: KindPartial}
}

// Full returns an entry for a block holding exactly Size live bytes.
func Full(id uint32) Entry {
	return Entry{ID: id, Kind: KindFull}
}

// Make builds an entry from a block id and a byte count that may equal
// Size; a count of Size (or 0) yields a full entry.
func Make(id, used uint32) Entry {
	used %= Size
	if used == 0 {
		return Full(id)
	}
	return Partial(id, used)
}

// FromWord unpacks the 32-bit wire form, disambiguating the two zero
// states by the block id field.
func FromWord(word uint32) Entry {
	if word == 0 {
		return Hole()
	}
	return Make(WordBlockID(word), WordUsedSize(word))
}

// Word packs the entry back into its 32-bit wire form.
func (e Entry) Word() uint32 {
	switch e.Kind {
	case KindHole:
		return 0
	case KindFull:
		return EncodeWord(e.ID, 0)
	default:
		return EncodeWord(e.ID, e.Used)
	}
}

// IsHole reports whether the entry has no backing block.
func (e Entry) IsHole() bool {
	return e.Kind == KindHole
}

// Live returns the number of live bytes the entry accounts for.
func (e Entry) Live() uint32 {
	switch e.Kind {
	case KindFull:
		return Size
	case KindPartial:
		return e.Used
	default:
		return 0
	}
}
