// Package image serializes whole devices to portable image files and
// back. An image is a small fixed header followed by every block of the
// device, optionally compressed, with an integrity checksum over the
// uncompressed payload.
package image

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/tartfs/tartfs/pkg/block"
	"github.com/tartfs/tartfs/pkg/device"
)

const (
	// Magic identifies an image file.
	Magic = "TARTIMG1"

	formatVersion = 1

	// header: magic, version, codec, block size, block count, checksum
	headerSize = 8 + 1 + 1 + 4 + 4 + 8
)

var (
	// ErrBadImage is returned when a file is not a valid image
	ErrBadImage = errors.New("invalid image file")

	// ErrChecksumMismatch is returned when the payload does not match the
	// checksum recorded in the header
	ErrChecksumMismatch = errors.New("image checksum mismatch")

	// ErrDeviceMismatch is returned when an image does not fit the target device
	ErrDeviceMismatch = errors.New("image does not fit target device")
)

// Header describes an image file.
type Header struct {
	Version   byte
	Codec     Codec
	BlockSize uint32
	Blocks    uint32
	Checksum  uint64
}

// Export writes the full contents of dev to w as an image. The checksum
// covers the raw blocks, so corruption is detected regardless of codec.
func Export(dev device.Device, w io.Writer, codec Codec) error {
	blocks := dev.Blocks()
	buf := make([]byte, block.Size)

	// First pass computes the payload digest so it can live in the
	// header; the device is random access, so reading twice is cheap.
	digest := xxhash.New()
	for id := uint32(0); id < blocks; id++ {
		if err := dev.ReadBlock(id, buf); err != nil {
			return fmt.Errorf("failed to read block %d: %w", id, err)
		}
		digest.Write(buf)
	}

	hdr := make([]byte, headerSize)
	copy(hdr[0:8], Magic)
	hdr[8] = formatVersion
	hdr[9] = byte(codec)
	binary.LittleEndian.PutUint32(hdr[10:14], block.Size)
	binary.LittleEndian.PutUint32(hdr[14:18], blocks)
	binary.LittleEndian.PutUint64(hdr[18:26], digest.Sum64())
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write image header: %w", err)
	}

	cw, err := newCompressWriter(w, codec)
	if err != nil {
		return err
	}
	for id := uint32(0); id < blocks; id++ {
		if err := dev.ReadBlock(id, buf); err != nil {
			cw.Close()
			return fmt.Errorf("failed to read block %d: %w", id, err)
		}
		if _, err := cw.Write(buf); err != nil {
			cw.Close()
			return fmt.Errorf("failed to write block %d: %w", id, err)
		}
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to finish image payload: %w", err)
	}
	return nil
}

// ReadHeader reads and validates an image header.
func ReadHeader(r io.Reader) (*Header, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrBadImage, err)
	}
	if string(hdr[0:8]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadImage)
	}
	if hdr[8] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadImage, hdr[8])
	}
	return &Header{
		Version:   hdr[8],
		Codec:     Codec(hdr[9]),
		BlockSize: binary.LittleEndian.Uint32(hdr[10:14]),
		Blocks:    binary.LittleEndian.Uint32(hdr[14:18]),
		Checksum:  binary.LittleEndian.Uint64(hdr[18:26]),
	}, nil
}

// Import restores an image onto dev. Blocks are written as they are
// decompressed, so on checksum failure the device contents are
// undefined and the caller should not mount the store.
func Import(r io.Reader, dev device.Device) (*Header, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if hdr.BlockSize != block.Size {
		return nil, fmt.Errorf("%w: image block size %d, expected %d",
			ErrDeviceMismatch, hdr.BlockSize, block.Size)
	}
	if hdr.Blocks > dev.Blocks() {
		return nil, fmt.Errorf("%w: image holds %d blocks, device has %d",
			ErrDeviceMismatch, hdr.Blocks, dev.Blocks())
	}

	cr, err := newCompressReader(r, hdr.Codec)
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	digest := xxhash.New()
	buf := make([]byte, block.Size)
	for id := uint32(0); id < hdr.Blocks; id++ {
		if _, err := io.ReadFull(cr, buf); err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrInvalidCompressedData, id, err)
		}
		digest.Write(buf)
		if err := dev.WriteBlock(id, buf); err != nil {
			return nil, fmt.Errorf("failed to write block %d: %w", id, err)
		}
	}
	if digest.Sum64() != hdr.Checksum {
		return nil, ErrChecksumMismatch
	}

	if err := dev.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync device: %w", err)
	}
	return hdr, nil
}

// ExportToFile exports dev to a new image file at path.
func ExportToFile(dev device.Device, path string, codec Codec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	if err := Export(dev, f, codec); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync image file: %w", err)
	}
	return f.Close()
}

// ImportFromFile restores the image at path onto dev.
func ImportFromFile(path string, dev device.Device) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer f.Close()
	return Import(f, dev)
}
