// Package cpu models the single processor the kernel runs on: the interrupt
// flag, the control registers, the segment bases and the port and LAPIC
// windows. Everything hardware-shaped is exposed as a package-level function
// variable so tests can observe or override it.
package cpu

import hostsync "sync"

var (
	// intEnabled mirrors RFLAGS.IF.
	intEnabled bool

	// pending holds vectors raised by devices that have not been accepted
	// yet. It is the one piece of state shared with device goroutines, so
	// it carries its own host-side lock.
	pendingMu hostsync.Mutex
	pending   []uint8
	wake      = make(chan struct{}, 1)

	// DispatchVector is installed by the interrupt package and invoked
	// for every accepted vector.
	DispatchVector func(vector uint8)

	cr2 uintptr
	cr3 uintptr

	fsBase uintptr

	// CurrentKernelStack shadows TSS.rsp0 for the SYSCALL fast path.
	CurrentKernelStack uintptr
)

// EnableInterrupts sets the interrupt flag and accepts any pending vectors.
func EnableInterrupts() {
	intEnabled = true
	acceptPending()
}

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts() {
	intEnabled = false
}

// InterruptsEnabled reports the state of the interrupt flag.
func InterruptsEnabled() bool {
	return intEnabled
}

// RaiseVector queues an interrupt vector for delivery. Devices may call this
// from any goroutine; the vector is accepted on the CPU context the next time
// the interrupt flag is raised or the CPU halts.
func RaiseVector(vector uint8) {
	pendingMu.Lock()
	pending = append(pending, vector)
	pendingMu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

// HasPendingVector reports whether an unaccepted vector exists.
func HasPendingVector() bool {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	return len(pending) > 0
}

func popPending() (uint8, bool) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	if len(pending) == 0 {
		return 0, false
	}
	v := pending[0]
	pending = pending[1:]
	return v, true
}

// acceptPending delivers pending vectors one at a time. Delivery clears the
// interrupt flag for the duration of the handler, as the hardware gate
// would; a handler that raises the flag again may accept the next vector
// before it returns.
func acceptPending() {
	for intEnabled {
		vector, ok := popPending()
		if !ok {
			return
		}

		intEnabled = false
		if DispatchVector != nil {
			DispatchVector(vector)
		}
		intEnabled = true
	}
}

// Halt stops execution until an interrupt arrives. With the interrupt flag
// clear this never returns, exactly like the instruction it models.
var Halt = func() {
	for {
		if intEnabled && HasPendingVector() {
			acceptPending()
			return
		}
		<-wake
		if !intEnabled {
			continue
		}
	}
}

// ReadCR2 returns the fault address register.
func ReadCR2() uintptr { return cr2 }

// WriteCR2 latches a fault address. Called by the fault raising path.
func WriteCR2(addr uintptr) { cr2 = addr }

// SwitchPDT sets the root page table register to the supplied physical
// address, implicitly flushing the TLB.
var SwitchPDT = func(pdtPhysAddr uintptr) { cr3 = pdtPhysAddr }

// ActivePDT returns the physical address of the currently active top-level
// page table.
var ActivePDT = func() uintptr { return cr3 }

// SetFSBase loads the FS segment base, used for thread-local storage.
var SetFSBase = func(base uintptr) { fsBase = base }

// FSBase returns the current FS segment base.
func FSBase() uintptr { return fsBase }
