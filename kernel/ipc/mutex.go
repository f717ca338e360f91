// Package ipc provides the thread-blocking primitives userspace sees
// through descriptors: mutexes, condition variables and pipes.
package ipc

import (
	"sync/atomic"

	"los/kernel/proc"
)

// Mutex is a queue-backed lock: a CAS fast path with a wait queue slow
// path. Unlock hands the lock to the first waiter without releasing the
// flag.
type Mutex struct {
	locked uint32
	queue  proc.ThreadQueue
}

// NewMutex returns an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Lock acquires the mutex, suspending the calling thread on the wait queue
// when it is contended.
func (m *Mutex) Lock() {
	if proc.CurrentThreadOption() == nil {
		return
	}

	if atomic.CompareAndSwapUint32(&m.locked, 0, 1) {
		return
	}

	proc.Yield(&m.queue)
}

// TryLock acquires the mutex only when it is free.
func (m *Mutex) TryLock() bool {
	if proc.CurrentThreadOption() == nil {
		return false
	}
	return atomic.CompareAndSwapUint32(&m.locked, 0, 1)
}

// Unlock pops one waiter and queues it runnable without releasing the flag
// (the lock transfers), or clears the flag when nobody waits.
func (m *Mutex) Unlock() {
	if waiter := proc.WakeOne(&m.queue); waiter != nil {
		atomic.StoreUint32(&m.locked, 1)
		return
	}
	atomic.StoreUint32(&m.locked, 0)
}

// Locked reports whether the mutex is currently held.
func (m *Mutex) Locked() bool {
	return atomic.LoadUint32(&m.locked) != 0
}
