// Package remaptable implements C1 from spec.md: the O(1) primary-sector
// to RemapEntry lookup table that sits on the hot I/O path, including its
// resize discipline and the ordered fallback index that lets
// length-greater-than-1 Manual entries answer a range lookup (spec.md §4.1).
package remaptable

import (
	"sort"
	"sync"
)

// MinBuckets is the floor on bucket count — the table never shrinks
// below this, per spec.md §3.
const MinBuckets = 64

const (
	growLoadFactor   = 1.5
	shrinkLoadFactor = 0.5
)

// ReservedChecker reports whether the spare range
// [spareStart, spareStart+length) intersects the spare device's reserved
// metadata region (spec.md §3's "Spare geometry"). Table calls it on
// every Insert so a remap can never be installed onto metadata sectors —
// spec.md §9 calls getting this wrong "the single highest-risk defect
// class."
type ReservedChecker func(spareStart uint64, length uint32) bool

// Stats is the subset of RemapTable bookkeeping the management channel's
// `status` operation (spec.md §6) reports.
type Stats struct {
	EntriesCount      int
	BucketCount       uint64
	ResizeCount       uint64
	FailedResizeCount uint64
	ManualCount       int
	AutoCount         int
}

// Table is the concurrent, power-of-two open-chained hash table described
// in spec.md §3/§4.1. The zero value is not usable; construct with New.
type Table struct {
	mu sync.RWMutex

	buckets     [][]*Entry
	bucketMask  uint64
	entryCount  int
	manualCount int
	autoCount   int

	// sortedStarts mirrors the live entries' PrimarySector values in
	// ascending order, enabling the bounded-scan range-lookup fallback
	// spec.md §4.1 explicitly allows for Length > 1 entries. Kept in
	// sync with buckets on every Insert/Remove.
	sortedStarts []uint64
	byStart      map[uint64]*Entry

	resizeCount       uint64
	failedResizeCount uint64

	// maxBuckets caps growth so AllocFailure (spec.md §7) is reachable
	// in tests without exhausting real memory. Zero means unlimited.
	maxBuckets uint64

	isReserved ReservedChecker
}

// New creates an empty Table with MinBuckets buckets. isReserved may be
// nil, in which case no spare range is treated as reserved (only
// appropriate when the caller enforces reservation elsewhere).
func New(isReserved ReservedChecker) *Table {
	return NewWithBucketCap(isReserved, 0)
}

// NewWithBucketCap is New but caps bucket growth at maxBuckets (0 =
// unlimited), letting tests exercise the AllocFailure path of spec.md §8's
// "Resize failure under memory pressure" boundary behavior.
func NewWithBucketCap(isReserved ReservedChecker, maxBuckets uint64) *Table {
	return &Table{
		buckets:    make([][]*Entry, MinBuckets),
		bucketMask: MinBuckets - 1,
		byStart:    make(map[uint64]*Entry),
		isReserved: isReserved,
		maxBuckets: maxBuckets,
	}
}

// mix is a 64-bit avalanche mix (splitmix64's finalizer), chosen per
// spec.md §4.1's "any hash with good low-bit distribution (e.g.,
// mix-and-mask)" — the same bit-mixing idiom the teacher's slotcache
// uses FNV-1a64 for, adapted here to a fixed-width integer key instead
// of a byte-slice key.
func mix(sector uint64) uint64 {
	x := sector
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31

	return x
}

func (t *Table) bucketIndex(sector uint64) uint64 {
	return mix(sector) & t.bucketMask
}

// Lookup returns the entry whose primary range contains p, if any.
func (t *Table) Lookup(p uint64) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.byStart[p]; ok {
		return *e, true
	}

	// Fallback for entries with Length > 1 that don't start at p: a
	// bounded binary search over sortedStarts, per spec.md §4.1.
	idx := sort.Search(len(t.sortedStarts), func(i int) bool {
		return t.sortedStarts[i] > p
	})
	if idx == 0 {
		return Entry{}, false
	}

	start := t.sortedStarts[idx-1]

	e := t.byStart[start]
	if e != nil && e.ContainsPrimary(p) {
		return *e, true
	}

	return Entry{}, false
}

// Insert installs entry, rejecting overlap with any live entry (on
// either the primary or spare side), a spare range over reserved
// sectors, or an invalid length.
func (t *Table) Insert(entry Entry) error {
	if entry.Length == 0 {
		return ErrInvalidLength
	}

	if entry.Flags == FlagAuto && entry.Length != 1 {
		return ErrInvalidLength
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// A prior resize already failed to keep up with the load factor and
	// we're still over it: the table that triggered that failure is
	// retained and keeps serving Lookup/Remove (spec.md §8's "old table
	// retained" boundary behavior), but it cannot safely absorb another
	// primary sector without the capacity a resize would have provided.
	// spec.md §7's AllocFailure is surfaced here, not on the insert that
	// triggered the failed resize — that one already fit.
	if t.failedResizeCount > 0 && t.loadFactor() > growLoadFactor {
		return ErrAllocFailure
	}

	if t.isReserved != nil && t.isReserved(entry.SpareSector, entry.Length) {
		return ErrReservedTarget
	}

	if _, exists := t.byStart[entry.PrimarySector]; exists {
		return ErrOverlap
	}

	for _, e := range t.byStart {
		if rangesOverlap(entry.PrimarySector, entry.PrimaryEnd(), e.PrimarySector, e.PrimaryEnd()) {
			return ErrOverlap
		}

		if rangesOverlap(entry.SpareSector, entry.SpareEnd(), e.SpareSector, e.SpareEnd()) {
			return ErrOverlap
		}
	}

	stored := entry
	t.byStart[entry.PrimarySector] = &stored

	idx := t.bucketIndex(entry.PrimarySector)
	t.buckets[idx] = append(t.buckets[idx], &stored)

	t.insertSorted(entry.PrimarySector)
	t.entryCount++

	if entry.Flags == FlagManual {
		t.manualCount++
	} else if entry.Flags == FlagAuto {
		t.autoCount++
	}

	if t.loadFactor() > growLoadFactor {
		t.resizeLocked(t.bucketCountLocked() * 2)
	}

	return nil
}

// Remove removes the entry starting at primary sector p.
func (t *Table) Remove(p uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byStart[p]
	if !ok {
		return ErrNotFound
	}

	idx := t.bucketIndex(p)
	chain := t.buckets[idx]

	for i, c := range chain {
		if c.PrimarySector == p {
			chain[i] = chain[len(chain)-1]
			t.buckets[idx] = chain[:len(chain)-1]

			break
		}
	}

	delete(t.byStart, p)
	t.removeSorted(p)
	t.entryCount--

	if e.Flags == FlagManual {
		t.manualCount--
	} else if e.Flags == FlagAuto {
		t.autoCount--
	}

	bucketCount := t.bucketCountLocked()
	if t.entryCount > 0 && t.loadFactor() < shrinkLoadFactor && bucketCount > MinBuckets {
		t.resizeLocked(bucketCount / 2)
	}

	return nil
}

func (t *Table) insertSorted(sector uint64) {
	idx := sort.Search(len(t.sortedStarts), func(i int) bool { return t.sortedStarts[i] >= sector })
	t.sortedStarts = append(t.sortedStarts, 0)
	copy(t.sortedStarts[idx+1:], t.sortedStarts[idx:])
	t.sortedStarts[idx] = sector
}

func (t *Table) removeSorted(sector uint64) {
	idx := sort.Search(len(t.sortedStarts), func(i int) bool { return t.sortedStarts[i] >= sector })
	if idx < len(t.sortedStarts) && t.sortedStarts[idx] == sector {
		t.sortedStarts = append(t.sortedStarts[:idx], t.sortedStarts[idx+1:]...)
	}
}

func (t *Table) bucketCountLocked() uint64 {
	return t.bucketMask + 1
}

func (t *Table) loadFactor() float64 {
	return float64(t.entryCount) / float64(t.bucketCountLocked())
}

// resizeLocked rebuilds the bucket array at newCount, or records a
// failed resize and leaves the table untouched — spec.md §8's "Resize
// failure under memory pressure: old table retained" boundary behavior.
// Must be called with t.mu held exclusively.
func (t *Table) resizeLocked(newCount uint64) {
	if newCount < MinBuckets {
		newCount = MinBuckets
	}

	if t.maxBuckets > 0 && newCount > t.maxBuckets {
		t.failedResizeCount++

		return
	}

	newBuckets := make([][]*Entry, newCount)
	newMask := newCount - 1

	for _, chain := range t.buckets {
		for _, e := range chain {
			idx := mix(e.PrimarySector) & newMask
			newBuckets[idx] = append(newBuckets[idx], e)
		}
	}

	t.buckets = newBuckets
	t.bucketMask = newMask
	t.resizeCount++
}

// Iter returns a stable snapshot of all live entries, in unspecified
// order, per spec.md §4.1.
func (t *Table) Iter() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, t.entryCount)
	for _, e := range t.byStart {
		out = append(out, *e)
	}

	return out
}

// Snapshot returns an immutable copy of all live entries for
// MetadataCodec to encode, without holding the table lock for the
// duration of the encode/write — spec.md §4.1.
func (t *Table) Snapshot() []Entry {
	return t.Iter()
}

// Clear removes every live entry and resets bucket count to MinBuckets,
// without replacing the Table itself — callers that already hold a
// pointer to this table (IoDispatcher, AutoRemapWorker) keep seeing its
// contents update in place. Used by RecoveryEngine's restore path so
// "restore" (spec.md §6) doesn't orphan the dispatcher's table
// reference.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buckets = make([][]*Entry, MinBuckets)
	t.bucketMask = MinBuckets - 1
	t.byStart = make(map[uint64]*Entry)
	t.sortedStarts = nil
	t.entryCount = 0
	t.manualCount = 0
	t.autoCount = 0
}

// Stats reports the counters spec.md §6's `status` operation surfaces.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		EntriesCount:      t.entryCount,
		BucketCount:       t.bucketCountLocked(),
		ResizeCount:       t.resizeCount,
		FailedResizeCount: t.failedResizeCount,
		ManualCount:       t.manualCount,
		AutoCount:         t.autoCount,
	}
}
