package remaptable

// Flag distinguishes how a RemapEntry came to exist, per spec.md §3.
type Flag uint32

const (
	// FlagManual entries are installed via the management channel (§6).
	FlagManual Flag = iota
	// FlagAuto entries are installed by AutoRemapWorker (§4.8). Always
	// have Length == 1 — see DESIGN.md's Open Questions resolution.
	FlagAuto
	// FlagPending marks an entry reserved during auto-remap allocation
	// but not yet confirmed. pkg/autoremap installs FlagAuto entries
	// directly and never sets this flag.
	FlagPending
)

func (f Flag) String() string {
	switch f {
	case FlagManual:
		return "manual"
	case FlagAuto:
		return "auto"
	case FlagPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Entry binds a primary sector range to a spare sector range, per
// spec.md §3's "Remap entry".
type Entry struct {
	PrimarySector uint64
	SpareSector   uint64
	Length        uint32 // sectors; always >= 1
	Flags         Flag
}

// PrimaryEnd returns the sector immediately past this entry's primary
// range (exclusive).
func (e Entry) PrimaryEnd() uint64 {
	return e.PrimarySector + uint64(e.Length)
}

// SpareEnd returns the sector immediately past this entry's spare range
// (exclusive).
func (e Entry) SpareEnd() uint64 {
	return e.SpareSector + uint64(e.Length)
}

// ContainsPrimary reports whether p falls inside this entry's primary
// range.
func (e Entry) ContainsPrimary(p uint64) bool {
	return p >= e.PrimarySector && p < e.PrimaryEnd()
}

func rangesOverlap(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}
