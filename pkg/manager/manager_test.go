package manager_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/config"
	"github.com/dmremap/dmremap/pkg/dispatcher"
	"github.com/dmremap/dmremap/pkg/fs"
	"github.com/dmremap/dmremap/pkg/manager"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()

	primary, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "primary.img"), 20_000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = primary.Close() })

	spare, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "spare.img"), 10_000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = spare.Close() })

	cfg := config.DefaultConfig()
	cfg.EntryCapacity = 16
	cfg.AutosaveIntervalSeconds = 1

	// Two copies of a 4096-byte header plus 16 24-byte entries need
	// 2 * ceil(4480/512) = 18 sectors.
	m, err := manager.Activate(manager.ActivationParams{
		Primary: primary, Spare: spare,
		MetaRegionSectors: 18, SpareDataRegionStart: 18, SpareDataRegionLen: 9_982,
		Config: cfg,
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	return m
}

func Test_Activate_On_Blank_Spare_Starts_Empty(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.Equal(t, "ok", m.Ping())
	require.Empty(t, m.List())
}

func Test_RemapTo_Installs_Manual_Entry_And_Dispatcher_Routes_To_Spare(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.RemapTo(100, 5000))

	payload := make([]byte, blockdev.SectorSize)
	for i := range payload {
		payload[i] = 0xEE
	}

	require.NoError(t, m.Dispatcher().Submit(dispatcher.Request{Op: dispatcher.OpWrite, Sector: 100, Length: 1}, payload))

	entries := m.List()
	require.Len(t, entries, 1)
	require.Equal(t, remaptable.FlagManual, entries[0].Flags)
}

func Test_RemapTo_Rejects_Reserved_Spare_Target(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	err := m.RemapTo(100, 3) // inside the 18-sector metadata region
	require.Error(t, err)
}

func Test_Remap_Chooses_Spare_Target_Automatically(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.Remap(200))

	entries := m.List()
	require.Len(t, entries, 1)
	require.Equal(t, uint64(200), entries[0].PrimarySector)
	require.GreaterOrEqual(t, entries[0].SpareSector, uint64(18))
}

func Test_Save_Then_Restore_Reloads_Same_Entries(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.RemapTo(1000, 6000))
	require.NoError(t, m.RemapTo(2000, 6001))
	require.NoError(t, m.Save())

	result, err := m.Restore()
	require.NoError(t, err)
	require.Equal(t, 0, result.DroppedCount)
	require.Len(t, m.List(), 2)
}

func Test_Status_Reports_Manual_And_Auto_Counts(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.RemapTo(10, 50))

	status := m.Status()
	require.Equal(t, 1, status.Table.ManualCount)
	require.Equal(t, 0, status.Table.AutoCount)
}

// Test_ReloadConfig_Without_ConfigPath_Returns_Current_Config exercises
// the no-file-configured branch: it must return the config the
// manager is actually running with, not a zero-valued
// DispatcherConfig{}.
func Test_ReloadConfig_Without_ConfigPath_Returns_Current_Config(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	got, err := m.ReloadConfig()
	require.NoError(t, err)
	require.Equal(t, uint32(16), got.EntryCapacity)
	require.Equal(t, 1, got.AutosaveIntervalSeconds)
	require.NotZero(t, got.MetadataCopyCount, "must not be the zero value of DispatcherConfig")
}

// Test_ReloadConfig_With_ConfigPath_Applies_File_Values exercises the
// file-backed branch end to end: a changed tunable on disk must come
// back from ReloadConfig and be reported by the running manager's Status.
func Test_ReloadConfig_With_ConfigPath_Applies_File_Values(t *testing.T) {
	t.Parallel()

	primary, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "primary.img"), 20_000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = primary.Close() })

	spare, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "spare.img"), 10_000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = spare.Close() })

	cfg := config.DefaultConfig()
	cfg.EntryCapacity = 16
	cfg.AutosaveIntervalSeconds = 1

	cfgPath := filepath.Join(t.TempDir(), "dmremap.jsonc")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"autosave_interval_seconds": 7}`), 0o644))

	m, err := manager.Activate(manager.ActivationParams{
		Primary: primary, Spare: spare,
		MetaRegionSectors: 18, SpareDataRegionStart: 18, SpareDataRegionLen: 9_982,
		Config: cfg, ConfigPath: cfgPath, Fsys: fs.NewReal(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	got, err := m.ReloadConfig()
	require.NoError(t, err)
	require.Equal(t, 7, got.AutosaveIntervalSeconds)
	require.Equal(t, 7, m.Status().AutosaveIntervalSeconds)
}

// Test_Autosave_Persists_Dirty_Table_Without_Explicit_Save exercises
// spec.md §4.4: the background ticker, not just save_now, must flush a
// dirty table.
func Test_Autosave_Persists_Dirty_Table_Without_Explicit_Save(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	require.NoError(t, m.RemapTo(42, 43))

	require.Eventually(t, func() bool {
		return !m.Status().Autosave.Dirty
	}, 3*time.Second, 10*time.Millisecond)
}
