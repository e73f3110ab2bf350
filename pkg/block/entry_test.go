package block

import "testing"

func TestEncodeWordLayout(t *testing.T) {
	word := EncodeWord(0x12345, 0xABC)

	if got := WordBlockID(word); got != 0x12345 {
		t.Errorf("Expected block id 0x12345, got 0x%X", got)
	}
	if got := WordUsedSize(word); got != 0xABC {
		t.Errorf("Expected used size 0xABC, got 0x%X", got)
	}
}

func TestEncodeWordMasksBlockID(t *testing.T) {
	// Bits above the low 20 of the block id must not leak into the size field
	word := EncodeWord(0xFFF00042, 0)
	if got := WordBlockID(word); got != 0x42 {
		t.Errorf("Expected masked block id 0x42, got 0x%X", got)
	}
	if got := WordUsedSize(word); got != 0 {
		t.Errorf("Expected used size 0, got %d", got)
	}
}

func TestFromWordZeroStates(t *testing.T) {
	// A fully-zero word is a hole
	e := FromWord(0)
	if !e.IsHole() {
		t.Errorf("Expected hole for zero word, got %v", e.Kind)
	}
	if e.Live() != 0 {
		t.Errorf("Expected 0 live bytes for hole, got %d", e.Live())
	}

	// A non-zero word with a zero size field is a completely full block
	e = FromWord(EncodeWord(7, 0))
	if e.Kind != KindFull {
		t.Errorf("Expected full block, got %v", e.Kind)
	}
	if e.ID != 7 {
		t.Errorf("Expected block id 7, got %d", e.ID)
	}
	if e.Live() != Size {
		t.Errorf("Expected %d live bytes for full block, got %d", Size, e.Live())
	}
}

func TestPartialEntry(t *testing.T) {
	e := FromWord(EncodeWord(9, 100))
	if e.Kind != KindPartial {
		t.Fatalf("Expected partial block, got %v", e.Kind)
	}
	if e.ID != 9 || e.Used != 100 {
		t.Errorf("Expected (9, 100), got (%d, %d)", e.ID, e.Used)
	}
	if e.Live() != 100 {
		t.Errorf("Expected 100 live bytes, got %d", e.Live())
	}
}

func TestMakeWrapsFullSize(t *testing.T) {
	// A byte count of exactly Size wraps to the full encoding
	e := Make(3, Size)
	if e.Kind != KindFull {
		t.Errorf("Expected full block for used=%d, got %v", Size, e.Kind)
	}
	if e.Word() != EncodeWord(3, 0) {
		t.Errorf("Expected word 0x%X, got 0x%X", EncodeWord(3, 0), e.Word())
	}
}

func TestWordRoundTrip(t *testing.T) {
	words := []uint32{0, EncodeWord(1, 0), EncodeWord(1, 1), EncodeWord(MaxBlockID, Size-1)}
	for _, w := range words {
		if got := FromWord(w).Word(); got != w {
			t.Errorf("Round trip of 0x%08X produced 0x%08X", w, got)
		}
	}
}

func TestGeometry(t *testing.T) {
	if IndexEntries != 1024 {
		t.Errorf("Expected 1024 index entries per block, got %d", IndexEntries)
	}
	if MaxFileSize != 1024*4096 {
		t.Errorf("Expected max file size %d, got %d", 1024*4096, MaxFileSize)
	}
}
