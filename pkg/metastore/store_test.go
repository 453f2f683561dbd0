package metastore_test

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/metadata"
	"github.com/dmremap/dmremap/pkg/metastore"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

func newTestDevice(t *testing.T, sectors uint64) *blockdev.FileDevice {
	t.Helper()

	dev, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "spare.img"), sectors)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func Test_Store_WriteAll_Then_ReadAll_Roundtrips_Every_Copy(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 64)
	store, err := metastore.New(dev, 16, 2, 64)
	require.NoError(t, err)

	entries := []remaptable.Entry{
		{PrimarySector: 100, SpareSector: 5000, Length: 1, Flags: remaptable.FlagManual},
	}
	img, err := metadata.Encode(entries, metadata.EncodeParams{
		EntryCapacity: 16, PrimarySizeSectors: 20_000, SpareSizeSectors: 10_000,
	})
	require.NoError(t, err)

	require.NoError(t, store.WriteAll(img))

	copies, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, copies, 2)

	for _, c := range copies {
		h, got, err := metadata.Decode(c.HeaderBytes, c.TableBytes, metadata.DecodeParams{
			ActualPrimarySizeSectors: 20_000, ActualSpareSizeSectors: 10_000,
		})
		require.NoErrorf(t, err, "copy %d", c.Index)
		require.Equal(t, uint64(1), h.Sequence)

		if diff := cmp.Diff(entries, got, cmpopts.SortSlices(func(a, b remaptable.Entry) bool {
			return a.PrimarySector < b.PrimarySector
		})); diff != "" {
			t.Fatalf("copy %d entry mismatch (-want +got):\n%s", c.Index, diff)
		}
	}
}

func Test_Store_New_Rejects_Region_Too_Small_For_CopyCount(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 4)
	_, err := metastore.New(dev, 16, 2, 4)
	require.ErrorIs(t, err, metastore.ErrNoSpace)
}

func Test_Store_Copy_Offsets_Are_Distinct_And_Ordered(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t, 64)
	store, err := metastore.New(dev, 16, 3, 64)
	require.NoError(t, err)

	require.Equal(t, 3, store.CopyCount())
	require.Less(t, store.CopySectorOffset(0), store.CopySectorOffset(1))
	require.Less(t, store.CopySectorOffset(1), store.CopySectorOffset(2))
}

// Test_Store_Survives_Torn_Write_On_One_Copy exercises spec.md §8
// scenario 4: a crash mid-write to one copy leaves the other copy
// intact and readable.
func Test_Store_Survives_Torn_Write_On_One_Copy(t *testing.T) {
	t.Parallel()

	underlying := newTestDevice(t, 64)
	// Copy 0 occupies sectors [0, copySectors); tear the 2nd WriteAt
	// call, which lands on copy 1 (calls: copy0, copy1).
	faulty := blockdev.NewFaultDevice(underlying, blockdev.FaultPlan{CallNumber: 2, Fail: false, TornBytes: 16})

	store, err := metastore.New(faulty, 16, 2, 64)
	require.NoError(t, err)

	entries := []remaptable.Entry{{PrimarySector: 7, SpareSector: 8, Length: 1, Flags: remaptable.FlagManual}}
	img, err := metadata.Encode(entries, metadata.EncodeParams{
		EntryCapacity: 16, PrimarySizeSectors: 20_000, SpareSizeSectors: 10_000,
	})
	require.NoError(t, err)
	require.NoError(t, store.WriteAll(img)) // torn write itself isn't a write failure, only truncated content

	copies, err := store.ReadAll()
	require.NoError(t, err)

	_, _, err0 := metadata.Decode(copies[0].HeaderBytes, copies[0].TableBytes, metadata.DecodeParams{
		ActualPrimarySizeSectors: 20_000, ActualSpareSizeSectors: 10_000,
	})
	require.NoError(t, err0, "copy 0 must still be intact")

	_, _, err1 := metadata.Decode(copies[1].HeaderBytes, copies[1].TableBytes, metadata.DecodeParams{
		ActualPrimarySizeSectors: 20_000, ActualSpareSizeSectors: 10_000,
	})
	require.Error(t, err1, "torn copy 1 must fail validation")
}
