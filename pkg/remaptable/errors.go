package remaptable

import "errors"

// Sentinel errors for RemapTable operations, following the teacher's
// package-level errors.New convention (see SPEC_FULL.md AMBIENT STACK).
var (
	// ErrOverlap is spec.md §7's OverlapError: the primary (or spare)
	// range of the entry being inserted intersects a live entry.
	ErrOverlap = errors.New("remaptable: primary or spare range overlaps a live entry")

	// ErrReservedTarget is spec.md §7's ReservedTarget: the entry's spare
	// range intersects the reserved metadata region.
	ErrReservedTarget = errors.New("remaptable: spare range intersects reserved metadata region")

	// ErrInvalidLength is returned when Length == 0, or Length > 1 on an
	// Auto entry (see DESIGN.md's Open Questions resolution).
	ErrInvalidLength = errors.New("remaptable: length_sectors must be >= 1 (and == 1 for Auto entries)")

	// ErrNotFound is returned by Remove when no entry starts at the given
	// primary sector.
	ErrNotFound = errors.New("remaptable: no entry at primary sector")

	// ErrAllocFailure is spec.md §7's AllocFailure: a resize could not
	// allocate the larger (or smaller) bucket array. The old table is
	// retained; see Stats.FailedResizeCount.
	ErrAllocFailure = errors.New("remaptable: resize allocation failed")
)
