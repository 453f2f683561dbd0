package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmremap/dmremap/pkg/config"
	"github.com/dmremap/dmremap/pkg/fs"
)

func Test_Load_Returns_Defaults_When_File_Missing(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(fs.NewReal(), t.TempDir()+"/does-not-exist.json")
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
}

func Test_Load_Overlays_File_Values_Onto_Defaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/dmremap.json"
	fsys := fs.NewReal()

	require.NoError(t, os.WriteFile(path, []byte(`{
  // JSONC comments are allowed
  "autosave_interval_seconds": 30,
}`), 0o644))

	cfg, err := config.Load(fsys, path)
	require.NoError(t, err)
	require.Equal(t, 30, cfg.AutosaveIntervalSeconds)
	require.Equal(t, config.DefaultConfig().ErrorWindowSeconds, cfg.ErrorWindowSeconds)
}

func Test_Load_Rejects_Out_Of_Range_Autosave_Interval(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/dmremap.json"
	fsys := fs.NewReal()

	require.NoError(t, os.WriteFile(path, []byte(`{"autosave_interval_seconds": 99999}`), 0o644))

	_, err := config.Load(fsys, path)
	require.Error(t, err)
}

func Test_Save_Then_Load_Roundtrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/dmremap.json"
	fsys := fs.NewReal()

	want := config.DefaultConfig()
	want.AutosaveIntervalSeconds = 120
	want.AutoRemapQueueDepth = 512

	require.NoError(t, config.Save(fsys, path, want))

	got, err := config.Load(fsys, path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
