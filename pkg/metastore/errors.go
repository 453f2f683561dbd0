package metastore

import "errors"

// Sentinel errors for Store, matching spec.md §4.3's MetadataStore
// failure classes.
var (
	// ErrIoError wraps a device-level read/write failure.
	ErrIoError = errors.New("metastore: device I/O error")

	// ErrNoSpace means the metadata region is too small to hold
	// CopyCount copies of entry_capacity entries.
	ErrNoSpace = errors.New("metastore: metadata region too small")

	// ErrNoValidCopy means every copy failed codec validation. Store
	// does not return it: ReadAll yields raw copies, and RecoveryEngine
	// reports the all-invalid case itself (recovery.ErrActivationFailed).
	ErrNoValidCopy = errors.New("metastore: no copy passed validation")
)
