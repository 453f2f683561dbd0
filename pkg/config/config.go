// Package config loads and persists DispatcherConfig: the tunables for
// AutoSaveScheduler, ErrorAnalyzer, and AutoRemapWorker.
//
// Grounded on the teacher's root config.go: same defaults-then-file
// precedence chain, same hujson.Standardize-then-json.Unmarshal
// parsing so the file may carry JSONC comments. Saving uses the
// teacher's own pkg/fs.AtomicWriter (adapted here from whole-file
// ticket-store writes to config-file rewrites) rather than a second,
// redundant atomic-write library — see DESIGN.md.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/dmremap/dmremap/pkg/fs"
)

// DispatcherConfig holds every tunable spec.md leaves as
// "configuration" rather than a fixed constant: §4.4's autosave
// interval, §4.7's ErrorAnalyzer thresholds, §4.8's queue depth, and
// §4.3's redundant-copy count.
type DispatcherConfig struct {
	AutosaveIntervalSeconds int    `json:"autosave_interval_seconds"`
	ErrorWindowSeconds      int64  `json:"error_window_seconds"`
	ErrorRollingThreshold   int    `json:"error_rolling_threshold"`
	ErrorConsecutiveTrigger int    `json:"error_consecutive_trigger"`
	AutoRemapQueueDepth     int    `json:"auto_remap_queue_depth"`
	MetadataCopyCount       int    `json:"metadata_copy_count"`
	EntryCapacity           uint32 `json:"entry_capacity"`
}

// DefaultConfig returns spec.md §4.4/§4.7's stated defaults plus
// SPEC_FULL.md's chosen defaults for the supplemented tunables.
func DefaultConfig() DispatcherConfig {
	return DispatcherConfig{
		AutosaveIntervalSeconds: 60,
		ErrorWindowSeconds:      60,
		ErrorRollingThreshold:   5,
		ErrorConsecutiveTrigger: 3,
		AutoRemapQueueDepth:     256,
		MetadataCopyCount:       2,
		EntryCapacity:           4096,
	}
}

var (
	errConfigFileRead  = fmt.Errorf("config: read failed")
	errConfigInvalid   = fmt.Errorf("config: invalid")
	errAutosaveBounds  = fmt.Errorf("autosave_interval_seconds must be in [1, 3600]")
	errCopyCountBounds = fmt.Errorf("metadata_copy_count must be >= 2")
)

// Load reads path through fsys, overlaying its fields onto
// DefaultConfig(). A missing file is not an error — it simply means
// "use defaults", matching the teacher's loadConfigFile behavior for
// an absent project config.
func Load(fsys fs.FS, path string) (DispatcherConfig, error) {
	cfg := DefaultConfig()

	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return DispatcherConfig{}, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	fileCfg, err := parse(data)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	cfg = merge(cfg, fileCfg)

	if err := Validate(cfg); err != nil {
		return DispatcherConfig{}, err
	}

	return cfg, nil
}

// Save atomically rewrites path with cfg. The management channel's
// reload_config operation only reads the file; it does not call Save.
func Save(fsys fs.FS, path string, cfg DispatcherConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	writer := fs.NewAtomicWriter(fsys)

	return writer.WriteWithDefaults(path, strings.NewReader(string(data)+"\n"))
}

// Validate checks the bounds spec.md names explicitly (autosave
// interval) plus the bounds SPEC_FULL.md adds for its supplements.
func Validate(cfg DispatcherConfig) error {
	if cfg.AutosaveIntervalSeconds < 1 || cfg.AutosaveIntervalSeconds > 3600 {
		return fmt.Errorf("%w: %w (got %d)", errConfigInvalid, errAutosaveBounds, cfg.AutosaveIntervalSeconds)
	}

	if cfg.MetadataCopyCount < 2 {
		return fmt.Errorf("%w: %w (got %d)", errConfigInvalid, errCopyCountBounds, cfg.MetadataCopyCount)
	}

	return nil
}

func parse(data []byte) (DispatcherConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg DispatcherConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return DispatcherConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

// merge overlays overlay's non-zero fields onto base, matching the
// teacher's mergeConfig field-by-field shape.
func merge(base, overlay DispatcherConfig) DispatcherConfig {
	if overlay.AutosaveIntervalSeconds != 0 {
		base.AutosaveIntervalSeconds = overlay.AutosaveIntervalSeconds
	}

	if overlay.ErrorWindowSeconds != 0 {
		base.ErrorWindowSeconds = overlay.ErrorWindowSeconds
	}

	if overlay.ErrorRollingThreshold != 0 {
		base.ErrorRollingThreshold = overlay.ErrorRollingThreshold
	}

	if overlay.ErrorConsecutiveTrigger != 0 {
		base.ErrorConsecutiveTrigger = overlay.ErrorConsecutiveTrigger
	}

	if overlay.AutoRemapQueueDepth != 0 {
		base.AutoRemapQueueDepth = overlay.AutoRemapQueueDepth
	}

	if overlay.MetadataCopyCount != 0 {
		base.MetadataCopyCount = overlay.MetadataCopyCount
	}

	if overlay.EntryCapacity != 0 {
		base.EntryCapacity = overlay.EntryCapacity
	}

	return base
}
