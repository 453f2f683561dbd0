package blockdev

import (
	"errors"
	"sync"
)

// ErrInjectedFault is returned by FaultDevice when a configured fault
// fires.
var ErrInjectedFault = errors.New("blockdev: injected fault")

// FaultPlan describes one scripted fault: the Nth WriteAt call (1-indexed,
// per-device call counter) either fails outright or is torn — only the
// first TornBytes bytes of the payload reach the device and the rest of
// the addressed range is written as zeros, simulating a crash
// mid-write. A torn call reports success unless Fail is also set.
//
// This is the narrow slice of pkg/fs/chaos.go's fault model dm-remap
// actually exercises (see DESIGN.md): a write that fails, and a write
// that completes partially. There is no directory/rename/permission
// fault surface here because MetadataStore never touches any of those.
type FaultPlan struct {
	CallNumber int
	Fail       bool
	TornBytes  int // 0 means: fail entirely (if Fail) or pass through untorn
}

// FaultDevice wraps a Device and, on scripted calls, fails or tears
// writes. Reads and Flush always pass through untouched — the spare
// device's read path and durability barrier aren't what §8's
// torn-write scenarios are testing; the write itself is.
type FaultDevice struct {
	mu         sync.Mutex
	underlying Device
	plans      map[int]FaultPlan
	writeCall  int
}

// NewFaultDevice wraps underlying with a set of scripted write faults.
func NewFaultDevice(underlying Device, plans ...FaultPlan) *FaultDevice {
	m := make(map[int]FaultPlan, len(plans))
	for _, p := range plans {
		m[p.CallNumber] = p
	}

	return &FaultDevice{underlying: underlying, plans: m}
}

// ReadAt passes through to the underlying device.
func (f *FaultDevice) ReadAt(sector uint64, length uint32, buf []byte) error {
	return f.underlying.ReadAt(sector, length, buf)
}

// WriteAt applies any scripted fault for this call before delegating.
func (f *FaultDevice) WriteAt(sector uint64, length uint32, buf []byte) error {
	f.mu.Lock()
	f.writeCall++
	call := f.writeCall
	plan, hasPlan := f.plans[call]
	f.mu.Unlock()

	if !hasPlan {
		return f.underlying.WriteAt(sector, length, buf)
	}

	if plan.Fail && plan.TornBytes == 0 {
		return ErrInjectedFault
	}

	if plan.TornBytes > 0 && plan.TornBytes < len(buf) {
		torn := make([]byte, len(buf))
		copy(torn, buf[:plan.TornBytes])

		if err := f.underlying.WriteAt(sector, length, torn); err != nil {
			return err
		}

		if plan.Fail {
			return ErrInjectedFault
		}

		return nil
	}

	return f.underlying.WriteAt(sector, length, buf)
}

// Flush passes through to the underlying device.
func (f *FaultDevice) Flush() error {
	return f.underlying.Flush()
}

// SectorCount passes through to the underlying device.
func (f *FaultDevice) SectorCount() uint64 {
	return f.underlying.SectorCount()
}

var _ Device = (*FaultDevice)(nil)
