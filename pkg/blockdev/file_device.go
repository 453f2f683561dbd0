package blockdev

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// FileDevice implements Device on top of a regular file or a block
// special file, using positioned reads/writes so concurrent submitters
// don't need to serialize on a shared file offset.
//
// This plays the role the teacher's pkg/fs.Real plays for FS: a thin,
// passthrough production implementation over OS primitives.
type FileDevice struct {
	mu          sync.RWMutex
	file        *os.File
	sectorCount uint64
}

// OpenFileDevice opens path and wraps it as a Device with sectorCount
// logical sectors. The file must already exist and be at least
// sectorCount*SectorSize bytes (callers typically pre-size it with
// os.Truncate or create it with CreateFileDevice).
func OpenFileDevice(path string, sectorCount uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600) //nolint:gosec // device path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("open block device %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("stat block device %q: %w", path, err)
	}

	if info.Size() < int64(sectorCount)*SectorSize {
		_ = f.Close()

		return nil, fmt.Errorf("block device %q smaller than %d sectors", path, sectorCount)
	}

	return &FileDevice{file: f, sectorCount: sectorCount}, nil
}

// CreateFileDevice creates (or truncates) a regular file at path, sized
// to exactly sectorCount*SectorSize bytes, and wraps it as a Device.
// Intended for tests and the demo harness, not for a real spare device
// (which is handed to dm-remap already provisioned — see spec.md §6
// Activation interface).
func CreateFileDevice(path string, sectorCount uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("create block device %q: %w", path, err)
	}

	size := int64(sectorCount) * SectorSize
	if err := f.Truncate(size); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("truncate block device %q to %d bytes: %w", path, size, err)
	}

	return &FileDevice{file: f, sectorCount: sectorCount}, nil
}

// ReadAt implements Device.
func (d *FileDevice) ReadAt(sector uint64, length uint32, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := checkRange(sector, length, d.sectorCount, len(buf)); err != nil {
		return err
	}

	off := int64(sector) * SectorSize

	n, err := unix.Pread(int(d.file.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("pread at sector %d: %w", sector, err)
	}

	if n != len(buf) {
		return fmt.Errorf("short read at sector %d: got %d of %d bytes", sector, n, len(buf))
	}

	return nil
}

// WriteAt implements Device.
func (d *FileDevice) WriteAt(sector uint64, length uint32, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := checkRange(sector, length, d.sectorCount, len(buf)); err != nil {
		return err
	}

	off := int64(sector) * SectorSize

	n, err := unix.Pwrite(int(d.file.Fd()), buf, off)
	if err != nil {
		return fmt.Errorf("pwrite at sector %d: %w", sector, err)
	}

	if n != len(buf) {
		return fmt.Errorf("short write at sector %d: wrote %d of %d bytes", sector, n, len(buf))
	}

	return nil
}

// Flush implements Device with a durability barrier via fdatasync.
func (d *FileDevice) Flush() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := unix.Fdatasync(int(d.file.Fd())); err != nil {
		return fmt.Errorf("fdatasync: %w", err)
	}

	return nil
}

// SectorCount implements Device.
func (d *FileDevice) SectorCount() uint64 {
	return d.sectorCount
}

// Close releases the underlying file descriptor.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.file.Close()
}

var _ Device = (*FileDevice)(nil)
