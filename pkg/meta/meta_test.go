package meta

import (
	"errors"
	"testing"
	"time"

	"github.com/tartfs/tartfs/pkg/device"
)

func newTestTable(t *testing.T, slots uint32) *Table {
	t.Helper()
	dev, err := device.NewMemory(4)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return NewTable(dev, 1, slots)
}

func TestTablePutGet(t *testing.T) {
	tbl := newTestTable(t, 128)

	now := time.Now().UnixNano()
	m := &FileMeta{
		ID:         5,
		Size:       12345,
		BlockCount: 5,
		IndexBlock: 42,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := tbl.Put(m); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	got, err := tbl.Get(5)
	if err != nil {
		t.Fatalf("Failed to get record: %v", err)
	}
	if *got != *m {
		t.Errorf("Record mismatch: got %+v, want %+v", got, m)
	}
}

func TestTableGetMissing(t *testing.T) {
	tbl := newTestTable(t, 128)

	if _, err := tbl.Get(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := tbl.Get(500); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for out-of-range id, got %v", err)
	}
}

func TestTableRemove(t *testing.T) {
	tbl := newTestTable(t, 128)

	if err := tbl.Put(&FileMeta{ID: 3, BlockCount: 1, IndexBlock: 9}); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}
	if err := tbl.Remove(3); err != nil {
		t.Fatalf("Failed to remove record: %v", err)
	}
	if _, err := tbl.Get(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
	if err := tbl.Remove(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second remove, got %v", err)
	}
}

func TestNextFree(t *testing.T) {
	tbl := newTestTable(t, 4)

	id, err := tbl.NextFree()
	if err != nil {
		t.Fatalf("Failed to find free slot: %v", err)
	}
	if id != 0 {
		t.Errorf("Expected slot 0, got %d", id)
	}

	for i := uint32(0); i < 4; i++ {
		if err := tbl.Put(&FileMeta{ID: i, BlockCount: 1}); err != nil {
			t.Fatalf("Failed to fill slot %d: %v", i, err)
		}
	}
	if _, err := tbl.NextFree(); !errors.Is(err, ErrTableFull) {
		t.Errorf("Expected ErrTableFull, got %v", err)
	}

	if err := tbl.Remove(2); err != nil {
		t.Fatalf("Failed to remove record: %v", err)
	}
	id, err = tbl.NextFree()
	if err != nil {
		t.Fatalf("Failed to find free slot after remove: %v", err)
	}
	if id != 2 {
		t.Errorf("Expected freed slot 2, got %d", id)
	}
}

func TestList(t *testing.T) {
	tbl := newTestTable(t, 128)

	for _, id := range []uint32{1, 4, 70} {
		if err := tbl.Put(&FileMeta{ID: id, BlockCount: 1, IndexBlock: id + 100}); err != nil {
			t.Fatalf("Failed to put record %d: %v", id, err)
		}
	}

	all, err := tbl.List()
	if err != nil {
		t.Fatalf("Failed to list records: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].ID != 1 || all[1].ID != 4 || all[2].ID != 70 {
		t.Errorf("Unexpected record order: %d, %d, %d", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestCorruptRecordDetected(t *testing.T) {
	dev, err := device.NewMemory(4)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	defer dev.Close()

	tbl := NewTable(dev, 1, 64)
	if err := tbl.Put(&FileMeta{ID: 0, Size: 99, BlockCount: 2}); err != nil {
		t.Fatalf("Failed to put record: %v", err)
	}

	// Flip a byte inside the record body
	buf := make([]byte, 4096)
	if err := dev.ReadBlock(1, buf); err != nil {
		t.Fatalf("Failed to read table block: %v", err)
	}
	buf[6] ^= 0xFF
	if err := dev.WriteBlock(1, buf); err != nil {
		t.Fatalf("Failed to write table block: %v", err)
	}

	if _, err := tbl.Get(0); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Expected ErrCorruptRecord, got %v", err)
	}
}
