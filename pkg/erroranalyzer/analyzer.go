// Package erroranalyzer implements C7 from spec.md: a sparse
// per-sector error map with integer-only severity classification and
// health scoring. The map has no size limit: a record is created for
// each sector that sees an error and is never evicted.
//
// Grounded on rajatrh-aistore/cmn's table-driven I/O error
// classification (is this errno "device trouble") and
// rajatrh-aistore/stats's counter-struct shape — see DESIGN.md.
// Floating point is deliberately absent: spec.md §4.7/§9 forbids it in
// this path, so unlike every other package here, stdlib integer
// arithmetic is the mandated tool, not a fallback.
package erroranalyzer

import "sync"

// Severity is the integer 0..3 classification from spec.md §4.7.
type Severity int

const (
	SeverityBenign     Severity = 0
	SeverityWarning    Severity = 1
	SeverityActionable Severity = 2
	SeverityFatal      Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SeverityBenign:
		return "benign"
	case SeverityWarning:
		return "warning"
	case SeverityActionable:
		return "actionable"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Config holds the classification thresholds, all configuration per
// spec.md §4.7's "exact thresholds are configuration" note.
type Config struct {
	WindowSeconds      int64 // default 60
	RollingThreshold   int   // N errors in window; default 5
	ConsecutiveTrigger int   // default 3
}

// DefaultConfig returns spec.md §4.7's stated defaults.
func DefaultConfig() Config {
	return Config{WindowSeconds: 60, RollingThreshold: 5, ConsecutiveTrigger: 3}
}

// Record is one sector's error history. HealthScore is 0 (worst) to
// 100 (best), computed purely from integers.
type Record struct {
	ReadErr        uint64
	WriteErr       uint64
	ConsecutiveErr uint32
	LastErrTime    int64
	RemapAttempted bool
	HealthScore    int

	windowTimes []int64
}

// Analyzer is the sparse per-sector error map. now is injectable so
// tests can drive the rolling window deterministically.
type Analyzer struct {
	mu      sync.Mutex
	cfg     Config
	records map[uint64]*Record
	now     func() int64
}

// New builds an Analyzer using the real wall clock.
func New(cfg Config) *Analyzer {
	return NewWithClock(cfg, defaultClock)
}

// NewWithClock builds an Analyzer with an injectable clock, for tests.
func NewWithClock(cfg Config, now func() int64) *Analyzer {
	return &Analyzer{cfg: cfg, records: make(map[uint64]*Record), now: now}
}

// RecordSuccess clears consecutive_err for sector, per spec.md §4.7.
func (a *Analyzer) RecordSuccess(sector uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[sector]
	if !ok {
		return
	}

	r.ConsecutiveErr = 0
	r.HealthScore = healthScore(r, a.cfg)
}

// RecordError records an I/O error for sector and returns its
// resulting severity. isWrite selects read_err vs write_err.
func (a *Analyzer) RecordError(sector uint64, isWrite bool) Severity {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[sector]
	if !ok {
		r = &Record{}
		a.records[sector] = r
	}

	now := a.now()

	if isWrite {
		r.WriteErr++
	} else {
		r.ReadErr++
	}

	r.ConsecutiveErr++
	r.LastErrTime = now
	r.windowTimes = pruneWindow(append(r.windowTimes, now), now, a.cfg.WindowSeconds)
	r.HealthScore = healthScore(r, a.cfg)

	return classify(r, a.cfg)
}

// MarkRemapAttempted records that an auto-remap was already attempted
// for sector, so a subsequent error there classifies as Fatal rather
// than Actionable (spec.md §4.7 severity 3).
func (a *Analyzer) MarkRemapAttempted(sector uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[sector]
	if !ok {
		r = &Record{}
		a.records[sector] = r
	}

	r.RemapAttempted = true
}

// Get returns a copy of sector's record, for status reporting and
// tests.
func (a *Analyzer) Get(sector uint64) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[sector]
	if !ok {
		return Record{}, false
	}

	cp := *r
	cp.windowTimes = nil

	return cp, true
}

// Histogram counts tracked sectors by their current severity, for the
// supplemented status op in SPEC_FULL.md.
func (a *Analyzer) Histogram() map[Severity]int {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := map[Severity]int{}
	for _, r := range a.records {
		hist[classify(r, a.cfg)]++
	}

	return hist
}

func classify(r *Record, cfg Config) Severity {
	windowCount := len(r.windowTimes)

	switch {
	case int(r.ConsecutiveErr) >= cfg.ConsecutiveTrigger && r.RemapAttempted:
		return SeverityFatal
	case int(r.ConsecutiveErr) >= cfg.ConsecutiveTrigger:
		return SeverityActionable
	case r.ConsecutiveErr >= 2 || windowCount > cfg.RollingThreshold:
		return SeverityWarning
	default:
		return SeverityBenign
	}
}

// healthScore derives a coarse 0..100 score: start at 100, subtract 20
// per consecutive error and 5 per error in the rolling window, floor
// at 0. Integer-only, per spec.md §4.7/§9.
func healthScore(r *Record, cfg Config) int {
	penalty := int(r.ConsecutiveErr)*20 + len(r.windowTimes)*5
	score := 100 - penalty

	if score < 0 {
		score = 0
	}

	return score
}

func pruneWindow(times []int64, now int64, windowSeconds int64) []int64 {
	kept := times[:0]

	for _, t := range times {
		if now-t <= windowSeconds {
			kept = append(kept, t)
		}
	}

	return kept
}

func defaultClock() int64 {
	return wallClockSeconds()
}
