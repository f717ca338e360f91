// Package sync provides the kernel's critical section and lock primitives.
package sync

import (
	"sync/atomic"

	"los/kernel/cpu"
)

// localCount is the per-CPU re-entrant critical section depth. It needs no
// lock or atomic: it is only touched with interrupts disabled on this CPU.
var localCount int

// EnterLocal disables interrupts and increments the critical depth.
func EnterLocal() {
	if localCount > 1000 {
		panic("local critical section depth exceeds 1000")
	}

	cpu.DisableInterrupts()
	localCount++
}

// LeaveLocal decrements the critical depth and re-enables interrupts when
// the outermost section is left.
func LeaveLocal() {
	localCount--
	if localCount == 0 {
		cpu.EnableInterrupts()
	}
}

// LeaveLocalNoSTI decrements the critical depth without re-enabling
// interrupts. Used when the caller is about to return to a context that will
// re-enable them itself.
func LeaveLocalNoSTI() {
	localCount--
}

// LocalDepth returns the current critical section depth.
func LocalDepth() int {
	return localCount
}

// CriticalLock is a spin lock that holds the local critical section for the
// duration of the lock. It is the only primitive that may be held across
// IRQ-enabled code paths: while it is held the current CPU can neither be
// preempted nor interrupted.
type CriticalLock struct {
	state uint32
}

// Acquire takes the local critical section, then spins on the lock flag.
func (l *CriticalLock) Acquire() {
	EnterLocal()

	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
	}
}

// Release drops the lock flag first, then leaves the local critical section.
func (l *CriticalLock) Release() {
	atomic.StoreUint32(&l.state, 0)
	LeaveLocal()
}

// IsLocked reports whether the lock is currently held.
func (l *CriticalLock) IsLocked() bool {
	return atomic.LoadUint32(&l.state) != 0
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. It does not touch the interrupt flag.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock
// could be acquired.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release while the lock is free
// has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
