// Package autosave implements C4 from spec.md: a single ticker-driven
// background task that periodically flushes a dirty RemapTable to the
// metadata region, plus a synchronous save_now usable from the
// management channel.
package autosave

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Snapshotter produces the data to persist and serialize+write it.
// The scheduler doesn't know about RemapTable/MetadataCodec/
// MetadataStore directly; Manager wires a closure over all three so
// this package stays testable without a real device.
type Snapshotter func() error

// Scheduler runs Snapshotter on a timer and exposes a mutually
// exclusive SaveNow, per spec.md §4.4.
type Scheduler struct {
	snapshot Snapshotter
	interval time.Duration

	saveMu sync.Mutex // serializes timer ticks against SaveNow
	dirty  atomic.Bool

	successCount atomic.Uint64
	failureCount atomic.Uint64
	lastSaveTime atomic.Int64 // unix seconds

	stop chan struct{}
	done chan struct{}
}

// New builds a Scheduler. interval must be in [1s, 3600s] per spec.md
// §6's autosave_interval_seconds bounds; callers validate config
// before reaching here (see pkg/config).
func New(snapshot Snapshotter, interval time.Duration) *Scheduler {
	return &Scheduler{
		snapshot: snapshot,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// MarkDirty flags the table as changed since the last successful save.
// Every mutating management/auto-remap operation calls this.
func (s *Scheduler) MarkDirty() {
	s.dirty.Store(true)
}

// Run drives the timer loop until Stop is called. Intended to run in
// its own goroutine, started once at activation.
func (s *Scheduler) Run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			if s.dirty.Load() {
				if err := s.SaveNow(); err != nil {
					glog.Errorf("autosave: final save on shutdown failed: %v", err)
				}
			}

			return
		case <-ticker.C:
			if !s.dirty.Load() {
				continue
			}

			if err := s.SaveNow(); err != nil {
				glog.Warningf("autosave: periodic save failed, will retry next tick: %v", err)
			}
		}
	}
}

// SaveNow snapshots and persists immediately, mutually exclusive with
// the timer tick and with any concurrent SaveNow caller (e.g. the
// management channel's save op racing the timer).
func (s *Scheduler) SaveNow() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if err := s.snapshot(); err != nil {
		s.failureCount.Add(1)
		return fmt.Errorf("autosave: save failed: %w", err)
	}

	s.dirty.Store(false)
	s.lastSaveTime.Store(time.Now().Unix())
	s.successCount.Add(1)

	return nil
}

// Stop signals the timer loop to perform a final save-if-dirty and
// exit, blocking until it has.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Stats is a snapshot of the scheduler's counters, surfaced by the
// management channel's status op.
type Stats struct {
	Dirty        bool
	SuccessCount uint64
	FailureCount uint64
	LastSaveTime int64
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Dirty:        s.dirty.Load(),
		SuccessCount: s.successCount.Load(),
		FailureCount: s.failureCount.Load(),
		LastSaveTime: s.lastSaveTime.Load(),
	}
}
