// Package metastore implements C3 from spec.md: writing and reading
// redundant copies of the encoded metadata image to fixed sector
// offsets in the spare device's metadata region.
//
// There is no teacher equivalent of "rename a block range" — unlike
// pkg/fs.AtomicWriter's temp-file-then-rename, a live block device has
// no rename. Store instead follows pkg/mddb/wal.go's discipline in
// spirit: write a copy fully, barrier it, only then is it durable; a
// half-written copy is simply one more copy that fails codec
// validation on the next read, which is why spec.md requires at least
// two distinct-offset copies.
package metastore

import (
	"fmt"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/metadata"
)

// Store writes and reads CopyCount redundant copies of a metadata
// image at fixed sector offsets within a device's metadata region.
type Store struct {
	device        blockdev.Device
	entryCapacity uint32
	copyCount     int
	copySectors   uint64 // per-copy footprint, header+table rounded up to a sector
}

// New validates that metaRegionSectors is large enough for copyCount
// copies of entryCapacity entries and returns a Store bound to device.
// Per spec.md §4.3, copyCount should be at least 2.
func New(device blockdev.Device, entryCapacity uint32, copyCount int, metaRegionSectors uint64) (*Store, error) {
	if copyCount < 1 {
		return nil, fmt.Errorf("metastore: copyCount must be >= 1, got %d", copyCount)
	}

	copyBytes := metadata.HeaderSize + int(entryCapacity)*metadata.EntrySize
	copySectors := sectorsFor(uint64(copyBytes))

	if uint64(copyCount)*copySectors > metaRegionSectors {
		return nil, fmt.Errorf("%w: need %d sectors for %d copies, region has %d",
			ErrNoSpace, uint64(copyCount)*copySectors, copyCount, metaRegionSectors)
	}

	return &Store{
		device:        device,
		entryCapacity: entryCapacity,
		copyCount:     copyCount,
		copySectors:   copySectors,
	}, nil
}

func sectorsFor(bytes uint64) uint64 {
	return (bytes + blockdev.SectorSize - 1) / blockdev.SectorSize
}

// RegionSectors returns the number of sectors copyCount copies of
// entryCapacity entries require, for callers sizing the metadata
// region before a device exists.
func RegionSectors(entryCapacity uint32, copyCount int) uint64 {
	copyBytes := metadata.HeaderSize + int(entryCapacity)*metadata.EntrySize
	return uint64(copyCount) * sectorsFor(uint64(copyBytes))
}

// CopySectorOffset returns the starting sector of copy index i, for
// tests and RecoveryEngine diagnostics.
func (s *Store) CopySectorOffset(i int) uint64 {
	return uint64(i) * s.copySectors
}

// CopyCount reports how many redundant copies this store maintains.
func (s *Store) CopyCount() int {
	return s.copyCount
}

// WriteAll writes img to every copy slot in fixed order 0..CopyCount-1,
// flushing after each copy so a crash mid-write leaves only the
// in-flight copy incomplete, per spec.md §4.3.
func (s *Store) WriteAll(img metadata.Image) error {
	buf := make([]byte, s.copySectors*blockdev.SectorSize)
	copy(buf, img.HeaderBytes)
	copy(buf[metadata.HeaderSize:], img.TableBytes)

	for i := 0; i < s.copyCount; i++ {
		off := s.CopySectorOffset(i)
		if err := s.device.WriteAt(off, uint32(s.copySectors), buf); err != nil {
			return fmt.Errorf("%w: copy %d: %v", ErrIoError, i, err)
		}

		if err := s.device.Flush(); err != nil {
			return fmt.Errorf("%w: copy %d flush: %v", ErrIoError, i, err)
		}
	}

	return nil
}

// Copy is one raw copy read back from the device, not yet validated.
type Copy struct {
	Index       int
	HeaderBytes []byte
	TableBytes  []byte
}

// ReadAll reads every copy slot back, raw. It does not validate —
// RecoveryEngine runs each copy through metadata.Decode and picks the
// best one, per spec.md §4.5.
func (s *Store) ReadAll() ([]Copy, error) {
	copies := make([]Copy, s.copyCount)

	for i := 0; i < s.copyCount; i++ {
		buf := make([]byte, s.copySectors*blockdev.SectorSize)

		if err := s.device.ReadAt(s.CopySectorOffset(i), uint32(s.copySectors), buf); err != nil {
			return nil, fmt.Errorf("%w: copy %d: %v", ErrIoError, i, err)
		}

		tableBytes := make([]byte, int(s.entryCapacity)*metadata.EntrySize)
		copy(tableBytes, buf[metadata.HeaderSize:])

		headerBytes := make([]byte, metadata.HeaderSize)
		copy(headerBytes, buf[:metadata.HeaderSize])

		copies[i] = Copy{Index: i, HeaderBytes: headerBytes, TableBytes: tableBytes}
	}

	return copies, nil
}
