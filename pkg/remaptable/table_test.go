package remaptable_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/dmremap/dmremap/pkg/remaptable"
)

func Test_Table_Lookup_Finds_Single_Sector_Entry(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	require.NoError(t, tbl.Insert(remaptable.Entry{PrimarySector: 100, SpareSector: 5000, Length: 1, Flags: remaptable.FlagManual}))

	e, ok := tbl.Lookup(100)
	require.True(t, ok)
	require.Equal(t, uint64(5000), e.SpareSector)

	_, ok = tbl.Lookup(101)
	require.False(t, ok)
}

func Test_Table_Lookup_Matches_Interior_Sector_Of_Multi_Sector_Entry(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	require.NoError(t, tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 6000, Length: 4, Flags: remaptable.FlagManual}))

	for _, p := range []uint64{1000, 1001, 1002, 1003} {
		e, ok := tbl.Lookup(p)
		require.Truef(t, ok, "expected hit at %d", p)
		require.Equal(t, uint64(6000), e.SpareSector)
	}

	_, ok := tbl.Lookup(1004)
	require.False(t, ok)
}

func Test_Table_Insert_Rejects_Overlapping_Primary_Range(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	require.NoError(t, tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 6000, Length: 1, Flags: remaptable.FlagManual}))

	err := tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 6002, Length: 1, Flags: remaptable.FlagManual})
	require.ErrorIs(t, err, remaptable.ErrOverlap)

	require.Equal(t, 1, tbl.Stats().EntriesCount)
}

func Test_Table_Insert_Rejects_Overlapping_Spare_Range(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	require.NoError(t, tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 6000, Length: 2, Flags: remaptable.FlagManual}))

	err := tbl.Insert(remaptable.Entry{PrimarySector: 2000, SpareSector: 6001, Length: 1, Flags: remaptable.FlagManual})
	require.ErrorIs(t, err, remaptable.ErrOverlap)
}

func Test_Table_Insert_Rejects_Reserved_Spare_Target(t *testing.T) {
	t.Parallel()

	reserved := func(start uint64, length uint32) bool { return start < 8 }
	tbl := remaptable.New(reserved)

	err := tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 4, Length: 1, Flags: remaptable.FlagManual})
	require.ErrorIs(t, err, remaptable.ErrReservedTarget)
}

func Test_Table_Insert_Rejects_Auto_Entry_With_Length_Greater_Than_One(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	err := tbl.Insert(remaptable.Entry{PrimarySector: 1000, SpareSector: 6000, Length: 2, Flags: remaptable.FlagAuto})
	require.ErrorIs(t, err, remaptable.ErrInvalidLength)
}

func Test_Table_Resize_Grows_Then_Shrinks_At_Load_Factor_Thresholds(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)

	// 64 buckets * 1.5 = 96; the 97th entry pushes load factor over 1.5.
	for i := uint64(0); i < 97; i++ {
		require.NoError(t, tbl.Insert(remaptable.Entry{
			PrimarySector: i * 10, SpareSector: i, Length: 1, Flags: remaptable.FlagManual,
		}))
	}

	stats := tbl.Stats()
	require.Equal(t, uint64(128), stats.BucketCount)
	require.Equal(t, uint64(1), stats.ResizeCount)

	// Remove entries until load factor drops below 0.5 (< 64 of 128).
	for i := uint64(0); i < 34; i++ {
		require.NoError(t, tbl.Remove(i*10))
	}

	stats = tbl.Stats()
	require.Equal(t, uint64(64), stats.BucketCount)
	require.Equal(t, uint64(2), stats.ResizeCount)
}

func Test_Table_Resize_Never_Shrinks_Below_MinBuckets(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	require.NoError(t, tbl.Insert(remaptable.Entry{PrimarySector: 1, SpareSector: 1, Length: 1, Flags: remaptable.FlagManual}))
	require.NoError(t, tbl.Remove(1))

	require.Equal(t, uint64(remaptable.MinBuckets), tbl.Stats().BucketCount)
}

func Test_Table_Resize_Records_AllocFailure_And_Retains_Old_Table(t *testing.T) {
	t.Parallel()

	tbl := remaptable.NewWithBucketCap(nil, 64)

	for i := uint64(0); i < 97; i++ {
		require.NoError(t, tbl.Insert(remaptable.Entry{
			PrimarySector: i * 10, SpareSector: i, Length: 1, Flags: remaptable.FlagManual,
		}))
	}

	stats := tbl.Stats()
	require.Equal(t, uint64(64), stats.BucketCount, "capped table must not grow past maxBuckets")
	require.Equal(t, uint64(0), stats.ResizeCount)
	require.Equal(t, uint64(1), stats.FailedResizeCount)
	require.Equal(t, 97, stats.EntriesCount, "triggering insert still succeeds even though resize failed")

	// Subsequent lookups must still work against the retained old table.
	e, ok := tbl.Lookup(0)
	require.True(t, ok)
	require.Equal(t, uint64(0), e.SpareSector)
}

func Test_Table_Insert_Returns_AllocFailure_Once_Resize_Is_Blocked_And_Still_Over_Load_Factor(t *testing.T) {
	t.Parallel()

	tbl := remaptable.NewWithBucketCap(nil, 64)

	for i := uint64(0); i < 97; i++ {
		require.NoError(t, tbl.Insert(remaptable.Entry{
			PrimarySector: i * 10, SpareSector: i, Length: 1, Flags: remaptable.FlagManual,
		}))
	}

	require.Equal(t, uint64(1), tbl.Stats().FailedResizeCount, "setup: resize must already have failed once")

	// The table is still over the grow threshold and cannot resize, so
	// this next insert must be rejected rather than silently accepted
	// into an already-overloaded bucket array.
	err := tbl.Insert(remaptable.Entry{PrimarySector: 99999, SpareSector: 200, Length: 1, Flags: remaptable.FlagManual})
	require.ErrorIs(t, err, remaptable.ErrAllocFailure)
	require.Equal(t, 97, tbl.Stats().EntriesCount, "rejected insert must not have been added")

	// Entries that fit before the failure remain reachable.
	_, ok := tbl.Lookup(0)
	require.True(t, ok)
}

func Test_Table_Snapshot_Roundtrips_Entry_Multiset(t *testing.T) {
	t.Parallel()

	tbl := remaptable.New(nil)
	want := []remaptable.Entry{
		{PrimarySector: 100, SpareSector: 5000, Length: 1, Flags: remaptable.FlagManual},
		{PrimarySector: 200, SpareSector: 5001, Length: 1, Flags: remaptable.FlagAuto},
	}

	for _, e := range want {
		require.NoError(t, tbl.Insert(e))
	}

	got := tbl.Snapshot()

	sortEntries := cmpopts.SortSlices(func(a, b remaptable.Entry) bool {
		return a.PrimarySector < b.PrimarySector
	})
	if diff := cmp.Diff(want, got, sortEntries); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}
