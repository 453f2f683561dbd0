package recovery

import "errors"

// ErrActivationFailed is returned when at least one copy in the metadata
// region has a valid magic but none passes full codec validation —
// spec.md §7's "Corrupt everything" activation failure. This is
// distinct from an empty/unwritten region, which is first activation,
// not a failure.
var ErrActivationFailed = errors.New("recovery: activation failed, no copy is valid and magic is present")
