package image

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/tartfs/tartfs/pkg/common/log"
	"github.com/tartfs/tartfs/pkg/device"
	"github.com/tartfs/tartfs/pkg/store"
)

// populatedDevice formats a device, writes one file into it and returns
// the device plus the file's content for later verification.
func populatedDevice(t *testing.T) (device.Device, uint32, []byte) {
	t.Helper()

	dev, err := device.NewMemory(64)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	if err := store.Format(dev, 16); err != nil {
		t.Fatalf("Failed to format device: %v", err)
	}
	s, err := store.Open(dev, store.WithLogger(log.NewStandardLogger(log.WithLevel(log.LevelError))))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	ctx := context.Background()
	id, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	content := make([]byte, 5000)
	for i := range content {
		content[i] = byte(i%254) + 1
	}
	h, err := s.OpenFile(id)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	if _, err := h.WriteAll(ctx, content); err != nil {
		t.Fatalf("Failed to write content: %v", err)
	}
	// Closing the store would close the device too, so flush instead and
	// keep the device usable for export.
	if err := s.Sync(); err != nil {
		t.Fatalf("Failed to sync store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return dev, id, content
}

func roundTrip(t *testing.T, codec Codec) {
	t.Helper()

	src, id, content := populatedDevice(t)

	var img bytes.Buffer
	if err := Export(src, &img, codec); err != nil {
		t.Fatalf("Export with %v failed: %v", codec, err)
	}

	dst, err := device.NewMemory(64)
	if err != nil {
		t.Fatalf("Failed to create target device: %v", err)
	}
	hdr, err := Import(bytes.NewReader(img.Bytes()), dst)
	if err != nil {
		t.Fatalf("Import with %v failed: %v", codec, err)
	}
	if hdr.Codec != codec || hdr.Blocks != 64 {
		t.Errorf("Unexpected header: %+v", hdr)
	}

	s, err := store.Open(dst, store.WithLogger(log.NewStandardLogger(log.WithLevel(log.LevelError))))
	if err != nil {
		t.Fatalf("Failed to open restored store: %v", err)
	}
	defer s.Close()

	h, err := s.OpenFile(id)
	if err != nil {
		t.Fatalf("Failed to open restored file: %v", err)
	}
	got, err := h.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Restored content differs: got %d bytes, expected %d", len(got), len(content))
	}
}

func TestRoundTripNone(t *testing.T)   { roundTrip(t, CodecNone) }
func TestRoundTripSnappy(t *testing.T) { roundTrip(t, CodecSnappy) }
func TestRoundTripZstd(t *testing.T)   { roundTrip(t, CodecZstd) }

func TestImportRejectsCorruptPayload(t *testing.T) {
	src, _, _ := populatedDevice(t)

	var img bytes.Buffer
	if err := Export(src, &img, CodecNone); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Flip a byte in the payload, past the header.
	raw := img.Bytes()
	raw[headerSize+100] ^= 0xFF

	dst, err := device.NewMemory(64)
	if err != nil {
		t.Fatalf("Failed to create target device: %v", err)
	}
	if _, err := Import(bytes.NewReader(raw), dst); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}
}

func TestImportRejectsBadHeader(t *testing.T) {
	dst, err := device.NewMemory(64)
	if err != nil {
		t.Fatalf("Failed to create target device: %v", err)
	}

	if _, err := Import(bytes.NewReader([]byte("definitely not an image")), dst); !errors.Is(err, ErrBadImage) {
		t.Errorf("Expected ErrBadImage, got %v", err)
	}
}

func TestImportRejectsSmallDevice(t *testing.T) {
	src, _, _ := populatedDevice(t)

	var img bytes.Buffer
	if err := Export(src, &img, CodecNone); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst, err := device.NewMemory(8)
	if err != nil {
		t.Fatalf("Failed to create target device: %v", err)
	}
	if _, err := Import(bytes.NewReader(img.Bytes()), dst); !errors.Is(err, ErrDeviceMismatch) {
		t.Errorf("Expected ErrDeviceMismatch, got %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	cases := []struct {
		in   string
		want Codec
	}{
		{"none", CodecNone},
		{"", CodecNone},
		{"snappy", CodecSnappy},
		{"ZSTD", CodecZstd},
	}
	for _, tc := range cases {
		got, err := ParseCodec(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseCodec(%q) = %v, %v; expected %v", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseCodec("lz4"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}
}
