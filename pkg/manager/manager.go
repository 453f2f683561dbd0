// Package manager implements the management channel (spec.md §6) and
// wires together every component under it: RemapTable, MetadataCodec,
// MetadataStore, AutoSaveScheduler, RecoveryEngine, IoDispatcher,
// ErrorAnalyzer, and AutoRemapWorker.
//
// Grounded on the teacher's ready.go/reopen.go shape: load state,
// validate a transition, mutate, persist. This is the Go API surface a
// management CLI or RPC handler would call — argument parsing and
// transport are out of scope per spec.md §1/§6.
package manager

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/dmremap/dmremap/pkg/autoremap"
	"github.com/dmremap/dmremap/pkg/autosave"
	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/config"
	"github.com/dmremap/dmremap/pkg/dispatcher"
	"github.com/dmremap/dmremap/pkg/erroranalyzer"
	"github.com/dmremap/dmremap/pkg/fs"
	"github.com/dmremap/dmremap/pkg/metadata"
	"github.com/dmremap/dmremap/pkg/metastore"
	"github.com/dmremap/dmremap/pkg/recovery"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

// ActivationParams is spec.md §6's activation interface: the
// parameters a hosting block framework hands in to stand up a
// dispatcher instance.
type ActivationParams struct {
	Primary              blockdev.Device
	Spare                blockdev.Device
	MetaRegionSectors    uint64
	SpareDataRegionStart uint64
	SpareDataRegionLen   uint64
	Config               config.DispatcherConfig
	ConfigPath           string // optional; empty disables ReloadConfig's file target
	Fsys                 fs.FS  // optional; required only if ConfigPath is set
}

// Manager is the activated instance: RemapTable, the dispatcher, and
// the two background tasks, plus the management operations over them.
type Manager struct {
	dispatcher *dispatcher.Dispatcher
	table      *remaptable.Table
	analyzer   *erroranalyzer.Analyzer
	worker     *autoremap.Worker
	scheduler  *autosave.Scheduler
	store      *metastore.Store

	primary blockdev.Device
	spare   blockdev.Device

	cfgMu   sync.Mutex
	cfg     config.DispatcherConfig
	cfgPath string
	fsys    fs.FS

	geomMu      sync.Mutex
	createdTime uint64
	sequence    uint64

	opMu sync.Mutex // serializes Remap/RemapTo/Restore against each other (Busy)

	primarySizeSectors uint64
	spareSizeSectors   uint64
	isReserved         remaptable.ReservedChecker
}

// Activate runs RecoveryEngine and stands up the full dispatch
// pipeline plus background tasks, per spec.md §4.5/§6.
func Activate(p ActivationParams) (*Manager, error) {
	isReserved := func(start uint64, length uint32) bool {
		return start < p.SpareDataRegionStart
	}

	store, err := metastore.New(p.Spare, p.Config.EntryCapacity, p.Config.MetadataCopyCount, p.MetaRegionSectors)
	if err != nil {
		return nil, err
	}

	result, err := recovery.Activate(store, recovery.Params{
		EntryCapacity:      p.Config.EntryCapacity,
		PrimarySizeSectors: p.Primary.SectorCount(),
		SpareSizeSectors:   p.Spare.SectorCount(),
		IsReserved:         isReserved,
	})
	if err != nil {
		return nil, err
	}

	if result.FirstActivation {
		glog.Infof("manager: first activation, empty remap table")
	} else {
		glog.Infof("manager: recovered %d entries (%d dropped)", len(result.Table.Snapshot()), result.DroppedCount)
	}

	m := &Manager{
		table:              result.Table,
		store:              store,
		primary:            p.Primary,
		spare:              p.Spare,
		cfg:                p.Config,
		cfgPath:            p.ConfigPath,
		fsys:               p.Fsys,
		createdTime:        result.CreatedTime,
		sequence:           result.Sequence,
		primarySizeSectors: p.Primary.SectorCount(),
		spareSizeSectors:   p.Spare.SectorCount(),
		isReserved:         isReserved,
	}

	m.analyzer = erroranalyzer.New(erroranalyzer.Config{
		WindowSeconds:      p.Config.ErrorWindowSeconds,
		RollingThreshold:   p.Config.ErrorRollingThreshold,
		ConsecutiveTrigger: p.Config.ErrorConsecutiveTrigger,
	})

	m.scheduler = autosave.New(m.snapshotAndSave, time.Duration(p.Config.AutosaveIntervalSeconds)*time.Second)

	m.worker = autoremap.New(
		m.table, isReserved, p.Primary, p.Spare, m.analyzer,
		p.SpareDataRegionStart, p.SpareDataRegionStart+p.SpareDataRegionLen,
		p.Config.AutoRemapQueueDepth, m.scheduler.MarkDirty,
	)

	m.dispatcher = dispatcher.New(p.Primary, p.Spare, m.table, m.analyzer, func(sector uint64) {
		m.worker.Enqueue(sector, "consecutive I/O errors")
	})

	go m.worker.Run()
	go m.scheduler.Run()

	return m, nil
}

// Shutdown stops both background tasks, performing a final save if
// dirty, per spec.md §5.
func (m *Manager) Shutdown() {
	m.worker.Stop()
	m.scheduler.Stop()
}

// Dispatcher returns the hot-path I/O entry point.
func (m *Manager) Dispatcher() *dispatcher.Dispatcher {
	return m.dispatcher
}

// snapshotAndSave is AutoSaveScheduler's Snapshotter: encode the
// current table and write it via MetadataStore, per spec.md §4.4
// step 3.
func (m *Manager) snapshotAndSave() error {
	m.geomMu.Lock()
	defer m.geomMu.Unlock()

	cfg := m.currentConfig()

	img, err := metadata.Encode(m.table.Snapshot(), metadata.EncodeParams{
		PriorSequence:      m.sequence,
		EntryCapacity:      cfg.EntryCapacity,
		PrimarySizeSectors: m.primarySizeSectors,
		SpareSizeSectors:   m.spareSizeSectors,
		CreatedTime:        m.createdTime,
		UpdatedTime:        uint64(time.Now().Unix()),
	})
	if err != nil {
		return err
	}

	if err := m.store.WriteAll(img); err != nil {
		return err
	}

	m.sequence = img.Header.Sequence

	return nil
}

func (m *Manager) currentConfig() config.DispatcherConfig {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	return m.cfg
}

// Remap implements "remap P" — a Manual entry at an
// implementation-chosen spare target, per spec.md §6.
func (m *Manager) Remap(primarySector uint64) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	spareSector, ok := m.worker.Allocate()
	if !ok {
		return ErrNoSpareCapacity
	}

	if err := m.table.Insert(remaptable.Entry{
		PrimarySector: primarySector, SpareSector: spareSector, Length: 1, Flags: remaptable.FlagManual,
	}); err != nil {
		return err
	}

	m.scheduler.MarkDirty()

	return nil
}

// RemapTo implements "remap P → S" — install a Manual entry of length
// 1 at an explicit spare target, per spec.md §6.
func (m *Manager) RemapTo(primarySector, spareSector uint64) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if err := m.table.Insert(remaptable.Entry{
		PrimarySector: primarySector, SpareSector: spareSector, Length: 1, Flags: remaptable.FlagManual,
	}); err != nil {
		return err
	}

	m.scheduler.MarkDirty()

	return nil
}

// Save implements "save" — synchronous flush, returning only after
// the durability barrier, per spec.md §6.
func (m *Manager) Save() error {
	return m.scheduler.SaveNow()
}

// Restore implements "restore" — re-run RecoveryEngine and replace the
// in-memory table, per spec.md §6. Refuses with ErrBusy if a
// Remap/RemapTo/Restore is already in progress.
func (m *Manager) Restore() (recovery.Result, error) {
	if !m.opMu.TryLock() {
		return recovery.Result{}, ErrBusy
	}
	defer m.opMu.Unlock()

	cfg := m.currentConfig()

	result, err := recovery.Activate(m.store, recovery.Params{
		EntryCapacity:      cfg.EntryCapacity,
		PrimarySizeSectors: m.primarySizeSectors,
		SpareSizeSectors:   m.spareSizeSectors,
		IsReserved:         m.isReserved,
		ExistingTable:      m.table,
	})
	if err != nil {
		return recovery.Result{}, err
	}

	// result.Table is the same pointer as m.table, refilled in place by
	// recovery.Activate — the dispatcher and auto-remap worker, which
	// captured that pointer at Activate time, see the reloaded entries
	// without being rewired.
	m.geomMu.Lock()
	m.sequence = result.Sequence
	m.createdTime = result.CreatedTime
	m.geomMu.Unlock()

	return result, nil
}

// Ping implements "ping".
func (m *Manager) Ping() string {
	return "ok"
}

// List is SPEC_FULL.md's supplement: a full RemapTable snapshot, for
// diagnostics beyond status's counts.
func (m *Manager) List() []remaptable.Entry {
	return m.table.Snapshot()
}

// Status is spec.md §6's status op plus SPEC_FULL.md's severity
// histogram and queue-depth supplements.
type Status struct {
	Table                   remaptable.Stats
	Autosave                autosave.Stats
	AutoRemap               autoremap.Stats
	ErrorHistogram          map[erroranalyzer.Severity]int
	AutosaveIntervalSeconds int
}

// Status implements "status".
func (m *Manager) Status() Status {
	return Status{
		Table:                   m.table.Stats(),
		Autosave:                m.scheduler.Stats(),
		AutoRemap:               m.worker.Stats(),
		ErrorHistogram:          m.analyzer.Histogram(),
		AutosaveIntervalSeconds: m.currentConfig().AutosaveIntervalSeconds,
	}
}

// ReloadConfig is SPEC_FULL.md's supplement: re-read the config file
// (if one was given at activation) and store its values as the
// manager's current config, which Status reports and the next save
// encodes with. The running ErrorAnalyzer and AutoSaveScheduler keep
// the thresholds and interval they were built with at activation.
// MetadataCopyCount and EntryCapacity are geometry baked in at
// activation: changed values are logged and not applied. Returns the
// config the manager now runs with.
func (m *Manager) ReloadConfig() (config.DispatcherConfig, error) {
	if m.cfgPath == "" {
		return m.currentConfig(), nil
	}

	next, err := config.Load(m.fsys, m.cfgPath)
	if err != nil {
		return config.DispatcherConfig{}, err
	}

	m.cfgMu.Lock()
	prev := m.cfg
	applied := next
	applied.MetadataCopyCount = prev.MetadataCopyCount
	applied.EntryCapacity = prev.EntryCapacity
	m.cfg = applied
	m.cfgMu.Unlock()

	if next.MetadataCopyCount != prev.MetadataCopyCount || next.EntryCapacity != prev.EntryCapacity {
		glog.Warningf("manager: reload_config cannot change on-disk geometry (metadata_copy_count, entry_capacity) without reactivation; keeping new values for the next activation's config file only")
	}

	return applied, nil
}
