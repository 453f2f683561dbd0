// Package autoremap implements C8 from spec.md: a bounded job queue
// drained by a single background worker that turns an Actionable
// error-analyzer verdict into a new Auto RemapTable entry.
//
// Grounded on pkg/mddb/reindex.go's single-background-worker-draining-
// a-job-list shape and pkg/slotcache/writer.go's "mark it dirty so the
// next save picks it up" bookkeeping — see DESIGN.md.
package autoremap

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/dmremap/dmremap/pkg/blockdev"
	"github.com/dmremap/dmremap/pkg/erroranalyzer"
	"github.com/dmremap/dmremap/pkg/remaptable"
)

// Job is one pending auto-remap request, per spec.md §4.8.
type Job struct {
	PrimarySector uint64
	Reason        string
}

// Stats are the worker's counters, surfaced by the management status
// op.
type Stats struct {
	Processed  uint64
	Failed     uint64
	Exhausted  uint64
	QueueDepth int
}

// Worker is the bounded queue plus its single drain goroutine.
type Worker struct {
	table      *remaptable.Table
	isReserved remaptable.ReservedChecker
	primary    blockdev.Device
	spare      blockdev.Device
	analyzer   *erroranalyzer.Analyzer
	markDirty  func()

	dataStart uint64
	dataEnd   uint64 // exclusive

	queueMu sync.Mutex
	cond    *sync.Cond
	queue   []Job
	queued  map[uint64]bool
	maxLen  int
	stopped bool
	done    chan struct{}

	allocMu sync.Mutex
	cursor  uint64

	processed atomic.Uint64
	failed    atomic.Uint64
	exhausted atomic.Uint64
}

// New builds a Worker. dataStart/dataEnd bound the spare's allocatable
// data region (sectors [dataStart, dataEnd)), per spec.md §6. analyzer
// is notified once a sector's auto-remap actually lands, so a later
// error on that same sector classifies as Fatal (spec.md §4.7 severity
// 3) instead of Actionable again.
func New(table *remaptable.Table, isReserved remaptable.ReservedChecker, primary, spare blockdev.Device, analyzer *erroranalyzer.Analyzer, dataStart, dataEnd uint64, maxQueueLen int, markDirty func()) *Worker {
	w := &Worker{
		table:      table,
		isReserved: isReserved,
		primary:    primary,
		spare:      spare,
		analyzer:   analyzer,
		markDirty:  markDirty,
		dataStart:  dataStart,
		dataEnd:    dataEnd,
		cursor:     dataStart,
		queued:     make(map[uint64]bool),
		maxLen:     maxQueueLen,
		done:       make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.queueMu)

	return w
}

// Enqueue adds a job for primarySector, deduplicating against any job
// already queued for the same sector (spec.md §4.8 step 5). If the
// queue is at capacity, the oldest queued job is dropped to make room
// — every job reaching this queue already carries Actionable severity,
// so "oldest" is the only ordering left to prefer (see spec.md §5's
// general "drop oldest Benign first" rule for queues that also carry
// lower-severity entries).
func (w *Worker) Enqueue(primarySector uint64, reason string) {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	if w.stopped || w.queued[primarySector] {
		return
	}

	if w.maxLen > 0 && len(w.queue) >= w.maxLen {
		dropped := w.queue[0]
		w.queue = w.queue[1:]
		delete(w.queued, dropped.PrimarySector)
		glog.Warningf("autoremap: queue full, dropping oldest job for sector %d", dropped.PrimarySector)
	}

	w.queue = append(w.queue, Job{PrimarySector: primarySector, Reason: reason})
	w.queued[primarySector] = true
	w.cond.Signal()
}

// Run drains the queue until Stop is called. Intended to run in its
// own goroutine, started once at activation.
func (w *Worker) Run() {
	defer close(w.done)

	for {
		w.queueMu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}

		if len(w.queue) == 0 && w.stopped {
			w.queueMu.Unlock()
			return
		}

		job := w.queue[0]
		w.queue = w.queue[1:]
		delete(w.queued, job.PrimarySector)
		w.queueMu.Unlock()

		w.process(job)
	}
}

// Stop marks the worker stopped, so later Enqueue calls are ignored,
// and blocks until Run has processed every job still in the queue and
// returned.
func (w *Worker) Stop() {
	w.queueMu.Lock()
	w.stopped = true
	w.cond.Broadcast()
	w.queueMu.Unlock()

	<-w.done
}

func (w *Worker) process(job Job) {
	if _, ok := w.table.Lookup(job.PrimarySector); ok {
		return // already remapped, nothing to do
	}

	spareSector, ok := w.Allocate()
	if !ok {
		w.exhausted.Add(1)
		w.failed.Add(1)
		glog.Warningf("autoremap: spare data region exhausted, cannot remap primary sector %d", job.PrimarySector)

		return
	}

	w.bestEffortCopy(job.PrimarySector, spareSector)

	if err := w.table.Insert(remaptable.Entry{
		PrimarySector: job.PrimarySector,
		SpareSector:   spareSector,
		Length:        1,
		Flags:         remaptable.FlagAuto,
	}); err != nil {
		w.failed.Add(1)
		glog.Warningf("autoremap: insert failed for primary sector %d: %v", job.PrimarySector, err)

		return
	}

	if w.analyzer != nil {
		w.analyzer.MarkRemapAttempted(job.PrimarySector)
	}

	w.markDirty()
	w.processed.Add(1)
}

// bestEffortCopy copies the primary sector's last-known-good contents
// to the new spare sector. Failure here is non-fatal per spec.md §4.8
// step 3 — the remap still happens, just without preserved contents.
func (w *Worker) bestEffortCopy(primarySector, spareSector uint64) {
	buf := make([]byte, blockdev.SectorSize)

	if err := w.primary.ReadAt(primarySector, 1, buf); err != nil {
		glog.Warningf("autoremap: best-effort copy read failed for sector %d: %v", primarySector, err)
		return
	}

	if err := w.spare.WriteAt(spareSector, 1, buf); err != nil {
		glog.Warningf("autoremap: best-effort copy write failed for sector %d: %v", spareSector, err)
	}
}

// Allocate reserves the next free spare data-region sector via the
// rotating cursor, skipping reserved sectors and live entries. Exported
// so Manager's synchronous "remap P" management op (spec.md §6) can
// reuse the same allocation policy as the background worker.
func (w *Worker) Allocate() (uint64, bool) {
	w.allocMu.Lock()
	defer w.allocMu.Unlock()

	if w.dataEnd <= w.dataStart {
		return 0, false
	}

	used := w.liveSpareSectors()
	span := w.dataEnd - w.dataStart

	for i := uint64(0); i < span; i++ {
		candidate := w.dataStart + (w.cursor-w.dataStart+i)%span

		if used[candidate] {
			continue
		}

		if w.isReserved != nil && w.isReserved(candidate, 1) {
			continue
		}

		w.cursor = candidate + 1
		if w.cursor >= w.dataEnd {
			w.cursor = w.dataStart
		}

		return candidate, true
	}

	return 0, false
}

func (w *Worker) liveSpareSectors() map[uint64]bool {
	used := make(map[uint64]bool)

	for _, e := range w.table.Snapshot() {
		for s := e.SpareSector; s < e.SpareSector+uint64(e.Length); s++ {
			used[s] = true
		}
	}

	return used
}

// Stats returns the worker's counters and current queue depth.
func (w *Worker) Stats() Stats {
	w.queueMu.Lock()
	depth := len(w.queue)
	w.queueMu.Unlock()

	return Stats{
		Processed:  w.processed.Load(),
		Failed:     w.failed.Load(),
		Exhausted:  w.exhausted.Load(),
		QueueDepth: depth,
	}
}
