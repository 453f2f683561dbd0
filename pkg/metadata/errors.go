package metadata

import "errors"

// Sentinel errors for Decode, matching spec.md §4.2/§7's metadata
// validation failure kinds.
var (
	// ErrBadMagic is spec.md §7's BadMagic.
	ErrBadMagic = errors.New("metadata: bad magic")

	// ErrUnsupportedVersion is spec.md §7's UnsupportedVersion.
	ErrUnsupportedVersion = errors.New("metadata: unsupported format version")

	// ErrCorruptHeader is spec.md §7's CorruptHeader: header_crc32
	// mismatch, or a size field inconsistent with the actual device.
	ErrCorruptHeader = errors.New("metadata: corrupt header")

	// ErrCorruptTable is spec.md §7's CorruptTable: table_crc32 mismatch.
	ErrCorruptTable = errors.New("metadata: corrupt entry table")
)
