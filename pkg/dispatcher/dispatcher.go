// Package dispatcher implements C6 from spec.md: per-request
// lookup/split/forward/completion-hook pipeline over a primary and
// spare blockdev.Device.
//
// Lock ordering: Dispatcher never takes a lock of its own on the hot
// path — it only calls into RemapTable (its own RWMutex) and then
// ErrorAnalyzer (its own mutex), always in that order: table lookup
// before the completion hook's analyzer update. Never the reverse;
// see the teacher's cache.go/lock.go comment block for the same
// "always state this order explicitly" discipline.
package dispatcher

import (
	"fmt"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/erroranalyzer"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

// Op is the I/O direction of a Request.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

// Request is one incoming I/O request, per spec.md §4.6.
type Request struct {
	Op     Op
	Sector uint64
	Length uint32
}

// OnActionable is called when a completion pushes a sector's severity
// to Actionable, i.e. "enqueue auto-remap" in spec.md §4.7. Wired to
// the AutoRemapWorker's Enqueue by Manager.
type OnActionable func(primarySector uint64)

// Dispatcher is the per-request lookup/split/forward pipeline.
type Dispatcher struct {
	primary  blockdev.Device
	spare    blockdev.Device
	table    *remaptable.Table
	analyzer *erroranalyzer.Analyzer
	onAction OnActionable
}

// New builds a Dispatcher. onActionable may be nil if the caller
// doesn't want auto-remap (e.g. a read-only diagnostic tool).
func New(primary, spare blockdev.Device, table *remaptable.Table, analyzer *erroranalyzer.Analyzer, onActionable OnActionable) *Dispatcher {
	return &Dispatcher{primary: primary, spare: spare, table: table, analyzer: analyzer, onAction: onActionable}
}

// subPlan is one sub-request entirely within a single device, after
// splitting req at remap boundaries.
type subPlan struct {
	device           blockdev.Device
	deviceSector     uint64
	primarySectorLow uint64 // original primary sector this sub-request starts at
	length           uint32
}

// plan splits req into sub-requests at RemapTable boundaries, per
// spec.md §4.6 step 1: each sub-request is entirely primary or entirely
// spare, and contiguous runs on the same device are coalesced into one
// sub-request.
func (d *Dispatcher) plan(req Request) []subPlan {
	var plans []subPlan

	for i := uint32(0); i < req.Length; i++ {
		sector := req.Sector + uint64(i)

		var device blockdev.Device
		var deviceSector uint64

		if entry, ok := d.table.Lookup(sector); ok {
			device = d.spare
			deviceSector = entry.SpareSector + (sector - entry.PrimarySector)
		} else {
			device = d.primary
			deviceSector = sector
		}

		if n := len(plans); n > 0 {
			last := &plans[n-1]
			sameDevice := last.device == device
			contiguous := deviceSector == last.deviceSector+uint64(last.length)

			if sameDevice && contiguous {
				last.length++
				continue
			}
		}

		plans = append(plans, subPlan{device: device, deviceSector: deviceSector, primarySectorLow: sector, length: 1})
	}

	return plans
}

// Submit runs req's full split/forward/completion-hook pipeline
// against buf, which must be req.Length*blockdev.SectorSize bytes.
// It returns the first sub-request error, if any, after running the
// completion hook for every sub-request regardless of earlier
// failures — a failure on one split sub-request must not suppress the
// error-analyzer update for the sectors that did succeed.
func (d *Dispatcher) Submit(req Request, buf []byte) error {
	want := int(req.Length) * blockdev.SectorSize
	if len(buf) != want {
		return fmt.Errorf("dispatcher: buffer is %d bytes, want %d", len(buf), want)
	}

	plans := d.plan(req)

	var firstErr error

	for _, p := range plans {
		off := (p.primarySectorLow - req.Sector) * blockdev.SectorSize
		sub := buf[off : off+uint64(p.length)*blockdev.SectorSize]

		var err error
		if req.Op == OpRead {
			err = p.device.ReadAt(p.deviceSector, p.length, sub)
		} else {
			err = p.device.WriteAt(p.deviceSector, p.length, sub)
		}

		d.completionHook(req.Op, p, err)

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// completionHook records the sub-request's result into ErrorAnalyzer
// before the caller observes completion, per spec.md §4.6 step 3, and
// fires OnActionable when severity crosses into Actionable.
func (d *Dispatcher) completionHook(op Op, p subPlan, err error) {
	if d.analyzer == nil {
		return
	}

	for i := uint32(0); i < p.length; i++ {
		sector := p.primarySectorLow + uint64(i)

		if err == nil {
			d.analyzer.RecordSuccess(sector)
			continue
		}

		sev := d.analyzer.RecordError(sector, op == OpWrite)
		if sev == erroranalyzer.SeverityActionable && d.onAction != nil {
			d.onAction(sector)
		}
	}
}
