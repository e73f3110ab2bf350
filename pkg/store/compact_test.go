package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/index"
)

// fragmentedFile builds a file whose first block was split by an
// overwrite: two partial blocks holding one contiguous live stream.
func fragmentedFile(t *testing.T, s *Store) *Handle {
	t.Helper()
	ctx := context.Background()

	h := createTestFile(t, s)
	if _, err := h.Write(ctx, fill(10, 1)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	h.Seek(2)
	if _, err := h.Write(ctx, fill(4, 50)); err != nil {
		t.Fatalf("Failed to split: %v", err)
	}
	return h
}

func sumUsed(info *FileInfo) uint64 {
	var total uint64
	for _, b := range info.Blocks {
		total += uint64(b.UsedBytes)
	}
	return total
}

func TestDefragmentMergesPartialBlocks(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()
	ctx := context.Background()

	h := fragmentedFile(t, s)
	before, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read before defrag: %v", err)
	}
	freeBefore := s.FreeBlocks()

	result, err := s.Defragment(ctx, h.FileID())
	if err != nil {
		t.Fatalf("Failed to defragment: %v", err)
	}
	if result.BlocksReclaimed != 1 {
		t.Errorf("Expected 1 block reclaimed, got %d", result.BlocksReclaimed)
	}
	if s.FreeBlocks() != freeBefore+1 {
		t.Errorf("Expected free count to grow by 1, went %d -> %d", freeBefore, s.FreeBlocks())
	}

	info := fileInfo(t, s, h.FileID())
	if len(info.Blocks) != 1 {
		t.Fatalf("Expected a single block after defrag, got %d", len(info.Blocks))
	}
	if info.Blocks[0].UsedBytes != 14 {
		t.Errorf("Expected merged used size 14, got %d", info.Blocks[0].UsedBytes)
	}
	if info.BlockCount != 2 {
		t.Errorf("Expected tight block count 2, got %d", info.BlockCount)
	}

	after, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read after defrag: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("Defrag changed live content: before %v, after %v", before, after)
	}
}

func TestDefragmentIdempotent(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()
	ctx := context.Background()

	h := fragmentedFile(t, s)
	if _, err := s.Defragment(ctx, h.FileID()); err != nil {
		t.Fatalf("First defrag failed: %v", err)
	}
	first := fileInfo(t, s, h.FileID())
	content, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}

	result, err := s.Defragment(ctx, h.FileID())
	if err != nil {
		t.Fatalf("Second defrag failed: %v", err)
	}
	if result.BlocksReclaimed != 0 {
		t.Errorf("Second defrag reclaimed %d blocks, expected 0", result.BlocksReclaimed)
	}

	second := fileInfo(t, s, h.FileID())
	if len(first.Blocks) != len(second.Blocks) ||
		first.Blocks[0].BlockID != second.Blocks[0].BlockID ||
		first.Blocks[0].UsedBytes != second.Blocks[0].UsedBytes {
		t.Errorf("Defrag not idempotent: first %+v, second %+v", first.Blocks, second.Blocks)
	}

	content2, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if !bytes.Equal(content, content2) {
		t.Error("Second defrag changed live content")
	}
}

func TestDefragmentPreservesUsedSum(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()
	ctx := context.Background()

	h := fragmentedFile(t, s)
	before := sumUsed(fileInfo(t, s, h.FileID()))

	if _, err := s.Defragment(ctx, h.FileID()); err != nil {
		t.Fatalf("Failed to defragment: %v", err)
	}

	after := sumUsed(fileInfo(t, s, h.FileID()))
	if before != after {
		t.Errorf("Used-byte sum changed: before %d, after %d", before, after)
	}
}

// After phase 1, each partial block's live bytes occupy a contiguous
// prefix with zeroes behind it.
func TestDefragmentFullnessInvariant(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()
	ctx := context.Background()

	h := createTestFile(t, s)
	if _, err := h.Write(ctx, fill(10, 1)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	// Leave a zero gap inside the block: live runs at [0,10) and [20,25)
	h.Seek(20)
	if _, err := h.Write(ctx, fill(5, 80)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if _, err := s.Defragment(ctx, h.FileID()); err != nil {
		t.Fatalf("Failed to defragment: %v", err)
	}

	info := fileInfo(t, s, h.FileID())
	if len(info.Blocks) != 1 {
		t.Fatalf("Expected 1 block, got %d", len(info.Blocks))
	}

	m, err := s.getMeta(h.FileID())
	if err != nil {
		t.Fatalf("Failed to get metadata: %v", err)
	}
	dir, err := index.Load(s.dev, m.IndexBlock)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	e := dir.At(0)
	buf := make([]byte, block.Size)
	if err := s.dev.ReadBlock(e.ID, buf); err != nil {
		t.Fatalf("Failed to read data block: %v", err)
	}

	// 15 live bytes must now sit at the front
	for i := 0; i < 15; i++ {
		if buf[i] == 0 {
			t.Fatalf("Expected non-zero byte at %d after gather", i)
		}
	}
	for i := 15; i < block.Size; i++ {
		if buf[i] != 0 {
			t.Fatalf("Expected zero byte at %d after gather, found %#x", i, buf[i])
		}
	}
}

func TestDefragmentManyBlocks(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()
	ctx := context.Background()

	h := createTestFile(t, s)
	content := fill(3000, 5)
	if _, err := h.WriteAll(ctx, content); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	// Split the block three times, spreading the stream over four blocks
	for _, off := range []uint64{100, 50, 10} {
		h.Seek(off)
		if _, err := h.Write(ctx, fill(8, byte(off))); err != nil {
			t.Fatalf("Failed to split at %d: %v", off, err)
		}
	}

	before, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read before defrag: %v", err)
	}
	infoBefore := fileInfo(t, s, h.FileID())
	if len(infoBefore.Blocks) < 3 {
		t.Fatalf("Expected a fragmented file, got %d blocks", len(infoBefore.Blocks))
	}

	result, err := s.Defragment(ctx, h.FileID())
	if err != nil {
		t.Fatalf("Failed to defragment: %v", err)
	}
	if result.BlocksReclaimed == 0 {
		t.Error("Expected blocks to be reclaimed")
	}

	after, err := h.ReadAll(ctx)
	if err != nil {
		t.Fatalf("Failed to read after defrag: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("Defrag changed live content: %d bytes before, %d after", len(before), len(after))
	}

	infoAfter := fileInfo(t, s, h.FileID())
	if sumUsed(infoBefore) != sumUsed(infoAfter) {
		t.Errorf("Used-byte sum changed: %d -> %d", sumUsed(infoBefore), sumUsed(infoAfter))
	}
	// All but the last block must be completely full after packing
	for i, b := range infoAfter.Blocks[:len(infoAfter.Blocks)-1] {
		if !b.Full {
			t.Errorf("Expected block %d to be full after packing, has %d used bytes", i, b.UsedBytes)
		}
	}
}

func TestGetInfoCountsFragmentation(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()

	h := fragmentedFile(t, s)
	info := fileInfo(t, s, h.FileID())

	if info.PartialBlocks != 2 {
		t.Errorf("Expected 2 partial blocks, got %d", info.PartialBlocks)
	}
	wantWasted := uint64(block.Size-6) + uint64(block.Size-8)
	if info.WastedBytes != wantWasted {
		t.Errorf("Expected %d wasted bytes, got %d", wantWasted, info.WastedBytes)
	}
	if info.UsedBlocks != 2 {
		t.Errorf("Expected 2 used blocks, got %d", info.UsedBlocks)
	}
}

func TestGetInfoEmptyFile(t *testing.T) {
	s := newTestStore(t, 256)
	defer s.Close()

	h := createTestFile(t, s)
	info := fileInfo(t, s, h.FileID())

	if info.UsedBlocks != 0 || info.PartialBlocks != 0 || info.WastedBytes != 0 {
		t.Errorf("Expected empty diagnostics, got %+v", info)
	}
}
