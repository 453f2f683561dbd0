package manager

import "errors"

// Sentinel errors for the management channel, matching spec.md §7's
// error-kind taxonomy where it isn't already a specific package's
// sentinel (remaptable.ErrOverlap, metadata.ErrCorruptHeader, etc).
var (
	// ErrNoSpareCapacity is spec.md §7's NoSpareCapacity: "remap P"
	// (implementation-chosen target) found no free spare sector.
	ErrNoSpareCapacity = errors.New("manager: no free spare capacity")

	// ErrBusy is spec.md §7's Busy: a conflicting management operation
	// is already in progress.
	ErrBusy = errors.New("manager: busy")
)
