package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tartfs/tartfs/pkg/block"
)

func testPattern(b byte) []byte {
	p := make([]byte, block.Size)
	for i := range p {
		p[i] = b
	}
	return p
}

func testDeviceReadWrite(t *testing.T, d Device) {
	t.Helper()

	want := testPattern(0xAB)
	if err := d.WriteBlock(3, want); err != nil {
		t.Fatalf("Failed to write block: %v", err)
	}

	got := make([]byte, block.Size)
	if err := d.ReadBlock(3, got); err != nil {
		t.Fatalf("Failed to read block: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Read did not return written content")
	}

	// Unwritten blocks read as zeroes
	if err := d.ReadBlock(2, got); err != nil {
		t.Fatalf("Failed to read untouched block: %v", err)
	}
	if !bytes.Equal(got, make([]byte, block.Size)) {
		t.Error("Untouched block is not zero-filled")
	}
}

func testDeviceBounds(t *testing.T, d Device) {
	t.Helper()

	buf := make([]byte, block.Size)
	if err := d.ReadBlock(d.Blocks(), buf); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange, got %v", err)
	}
	if err := d.WriteBlock(0, buf[:10]); !errors.Is(err, ErrBadBuffer) {
		t.Errorf("Expected ErrBadBuffer, got %v", err)
	}
}

func TestMemoryDevice(t *testing.T) {
	d, err := NewMemory(8)
	if err != nil {
		t.Fatalf("Failed to create memory device: %v", err)
	}
	defer d.Close()

	if d.Blocks() != 8 {
		t.Errorf("Expected 8 blocks, got %d", d.Blocks())
	}

	testDeviceReadWrite(t, d)
	testDeviceBounds(t, d)
}

func TestMemoryDeviceClosed(t *testing.T) {
	d, err := NewMemory(2)
	if err != nil {
		t.Fatalf("Failed to create memory device: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Failed to close device: %v", err)
	}

	buf := make([]byte, block.Size)
	if err := d.ReadBlock(0, buf); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestFileDevice(t *testing.T) {
	dir, err := os.MkdirTemp("", "device_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "image.tart")
	d, err := CreateFile(path, 8)
	if err != nil {
		t.Fatalf("Failed to create file device: %v", err)
	}

	testDeviceReadWrite(t, d)
	testDeviceBounds(t, d)

	if err := d.Sync(); err != nil {
		t.Fatalf("Failed to sync device: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Failed to close device: %v", err)
	}

	// Reopen and verify content survived
	d2, err := OpenFile(path)
	if err != nil {
		t.Fatalf("Failed to reopen file device: %v", err)
	}
	defer d2.Close()

	if d2.Blocks() != 8 {
		t.Errorf("Expected 8 blocks after reopen, got %d", d2.Blocks())
	}

	got := make([]byte, block.Size)
	if err := d2.ReadBlock(3, got); err != nil {
		t.Fatalf("Failed to read block after reopen: %v", err)
	}
	if !bytes.Equal(got, testPattern(0xAB)) {
		t.Error("Content did not survive reopen")
	}
}

func TestOpenFileRejectsUnalignedImage(t *testing.T) {
	dir, err := os.MkdirTemp("", "device_test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "short.tart")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, err := OpenFile(path); err == nil {
		t.Error("Expected error opening unaligned image")
	}
}

func TestZeroBlock(t *testing.T) {
	d, err := NewMemory(2)
	if err != nil {
		t.Fatalf("Failed to create memory device: %v", err)
	}
	defer d.Close()

	if err := d.WriteBlock(1, testPattern(0xFF)); err != nil {
		t.Fatalf("Failed to write block: %v", err)
	}
	if err := ZeroBlock(d, 1); err != nil {
		t.Fatalf("Failed to zero block: %v", err)
	}

	got := make([]byte, block.Size)
	if err := d.ReadBlock(1, got); err != nil {
		t.Fatalf("Failed to read block: %v", err)
	}
	if !bytes.Equal(got, make([]byte, block.Size)) {
		t.Error("Block not zeroed")
	}
}
