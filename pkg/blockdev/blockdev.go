// Package blockdev provides the sector-addressed device abstraction that
// the rest of dm-remap is built on: the primary device, the spare device,
// and the file-backed/fault-injecting implementations used in tests.
//
// The interface mirrors how the teacher's pkg/fs abstracts the os package
// (an interface over a production implementation, with a fault-injecting
// implementation for tests) but addresses sectors rather than whole files,
// since a remap target is a live block device, not something you can
// temp-file-and-rename over.
package blockdev

import "errors"

// SectorSize is the fixed logical sector size in bytes, per spec.md §3.
const SectorSize = 512

// ErrOutOfRange is returned when a request addresses sectors beyond the
// device's SectorCount.
var ErrOutOfRange = errors.New("blockdev: sector range out of bounds")

// Device is the capability set the dispatch path needs from an
// underlying block device: sector-addressed read/write and a durability
// barrier. Implementations must be safe for concurrent use by multiple
// goroutines (the dispatcher is called from multiple submitter threads,
// per spec.md §5).
type Device interface {
	// ReadAt reads length sectors starting at sector into buf, which must
	// be exactly length*SectorSize bytes long.
	ReadAt(sector uint64, length uint32, buf []byte) error

	// WriteAt writes length sectors starting at sector from buf, which
	// must be exactly length*SectorSize bytes long.
	WriteAt(sector uint64, length uint32, buf []byte) error

	// Flush issues a durability barrier: once it returns nil, prior
	// writes are durable. MetadataStore relies on this between copies.
	Flush() error

	// SectorCount returns the device's total size in sectors.
	SectorCount() uint64
}

func checkRange(sector uint64, length uint32, sectorCount uint64, bufLen int) error {
	if length == 0 {
		return errors.New("blockdev: length must be >= 1")
	}

	if sector+uint64(length) > sectorCount {
		return ErrOutOfRange
	}

	if bufLen != int(length)*SectorSize {
		return errors.New("blockdev: buffer size does not match length*SectorSize")
	}

	return nil
}
