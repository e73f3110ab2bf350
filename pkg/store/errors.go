package store

import "errors"

var (
	// ErrOutOfSpace is returned when a write would exceed the maximum file
	// size, the directory capacity, or the free blocks on the device
	ErrOutOfSpace = errors.New("out of space")

	// ErrIOFault is returned when a block transfer fails underneath an
	// operation
	ErrIOFault = errors.New("block i/o fault")

	// ErrCopyFault is returned when a caller buffer is too small for the
	// bytes a read must deliver in one piece
	ErrCopyFault = errors.New("caller buffer too small for fragment")

	// ErrFileNotFound is returned when a file id has no metadata record
	ErrFileNotFound = errors.New("file not found")

	// ErrStoreClosed is returned when operating on a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrCorruptSuperblock is returned when the superblock fails validation
	ErrCorruptSuperblock = errors.New("corrupt superblock")
)
