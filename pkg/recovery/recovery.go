// Package recovery implements C5 from spec.md: the activation-time
// sequence that loads the spare's redundant metadata copies, picks the
// best one, reconstructs a RemapTable from it, and writes a fresh
// image so the next crash recovers from known-good state.
//
// The selection-among-redundant-copies shape has no direct teacher
// analogue (pkg/fs/crash_restore.go recovers a single WAL/file, not N
// fixed-offset copies) — see DESIGN.md. The "validate before trusting
// on-disk state" discipline itself follows pkg/slotcache/open.go.
package recovery

import (
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/dmremap/dmremap/pkg/metadata"
	"github.com/dmremap/dmremap/pkg/metastore"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

// Result summarizes one activation run, surfaced by the management
// channel's status op.
type Result struct {
	Table           *remaptable.Table
	Sequence        uint64
	CreatedTime     uint64
	FirstActivation bool
	DroppedCount    int
}

// Params carries everything Activate needs about the region and the
// device's actual geometry, matching metadata.DecodeParams plus the
// fields Encode needs to write a fresh image.
type Params struct {
	EntryCapacity      uint32
	PrimarySizeSectors uint64
	SpareSizeSectors   uint64
	IsReserved         remaptable.ReservedChecker

	// ExistingTable, when non-nil, is cleared and refilled in place
	// instead of Activate allocating a fresh *remaptable.Table. Restore
	// (spec.md §6) passes the Manager's current table here so the
	// IoDispatcher and AutoRemapWorker — which hold their own reference
	// to that same pointer — observe the reloaded entries without
	// needing to be rewired.
	ExistingTable *remaptable.Table
}

func (p Params) table() *remaptable.Table {
	if p.ExistingTable != nil {
		p.ExistingTable.Clear()
		return p.ExistingTable
	}

	return remaptable.New(p.IsReserved)
}

type validCopy struct {
	index   int
	header  metadata.Header
	entries []remaptable.Entry
}

// Activate runs the full §4.5 sequence against store and returns the
// reconstructed table plus diagnostics. It is idempotent: re-running it
// against the image it just wrote reproduces the same table with zero
// drops.
func Activate(store *metastore.Store, p Params) (Result, error) {
	copies, err := store.ReadAll()
	if err != nil {
		return Result{}, err
	}

	decodeParams := metadata.DecodeParams{
		ActualPrimarySizeSectors: p.PrimarySizeSectors,
		ActualSpareSizeSectors:   p.SpareSizeSectors,
	}

	var (
		valid     []validCopy
		sawMagic  bool
		createdAt uint64
	)

	for _, c := range copies {
		h, entries, err := metadata.Decode(c.HeaderBytes, c.TableBytes, decodeParams)
		if err != nil {
			if !errors.Is(err, metadata.ErrBadMagic) {
				sawMagic = true
			}

			continue
		}

		sawMagic = true
		valid = append(valid, validCopy{index: c.Index, header: h, entries: entries})
	}

	if len(valid) == 0 {
		if sawMagic {
			return Result{}, ErrActivationFailed
		}

		return firstActivation(store, p)
	}

	best := pickBest(valid)
	createdAt = best.header.CreatedTime

	table := p.table()

	dropped := 0
	for _, e := range best.entries {
		if err := table.Insert(e); err != nil {
			dropped++
			glog.Warningf("recovery: dropping entry primary=%d spare=%d length=%d: %v",
				e.PrimarySector, e.SpareSector, e.Length, err)
		}
	}

	if err := rewrite(store, table, p, best.header.Sequence, createdAt); err != nil {
		return Result{}, err
	}

	return Result{
		Table:           table,
		Sequence:        best.header.Sequence + 1,
		CreatedTime:     createdAt,
		FirstActivation: false,
		DroppedCount:    dropped,
	}, nil
}

// pickBest selects the copy with the highest sequence, ties broken by
// highest updated_time, then lowest copy index, per spec.md §4.5.
func pickBest(copies []validCopy) validCopy {
	best := copies[0]

	for _, c := range copies[1:] {
		switch {
		case c.header.Sequence > best.header.Sequence:
			best = c
		case c.header.Sequence == best.header.Sequence && c.header.UpdatedTime > best.header.UpdatedTime:
			best = c
		case c.header.Sequence == best.header.Sequence && c.header.UpdatedTime == best.header.UpdatedTime && c.index < best.index:
			best = c
		}
	}

	return best
}

func firstActivation(store *metastore.Store, p Params) (Result, error) {
	table := p.table()
	now := uint64(time.Now().Unix())

	if err := rewrite(store, table, p, 0, now); err != nil {
		return Result{}, err
	}

	return Result{
		Table:           table,
		Sequence:        1,
		CreatedTime:     now,
		FirstActivation: true,
	}, nil
}

func rewrite(store *metastore.Store, table *remaptable.Table, p Params, priorSequence uint64, createdAt uint64) error {
	img, err := metadata.Encode(table.Snapshot(), metadata.EncodeParams{
		PriorSequence:      priorSequence,
		EntryCapacity:      p.EntryCapacity,
		PrimarySizeSectors: p.PrimarySizeSectors,
		SpareSizeSectors:   p.SpareSizeSectors,
		CreatedTime:        createdAt,
		UpdatedTime:        uint64(time.Now().Unix()),
	})
	if err != nil {
		return err
	}

	return store.WriteAll(img)
}
