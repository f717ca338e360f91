package sync

import (
	"testing"

	"los/kernel/cpu"
)

func TestLocalCriticalSectionReentrancy(t *testing.T) {
	cpu.EnableInterrupts()
	localCount = 0

	EnterLocal()
	if cpu.InterruptsEnabled() {
		t.Fatal("expected interrupts disabled inside critical section")
	}

	EnterLocal()
	LeaveLocal()
	if cpu.InterruptsEnabled() {
		t.Fatal("interrupts must stay disabled until the outermost leave")
	}
	if LocalDepth() != 1 {
		t.Fatalf("expected depth 1; got %d", LocalDepth())
	}

	LeaveLocal()
	if !cpu.InterruptsEnabled() {
		t.Fatal("expected interrupts re-enabled after outermost leave")
	}
}

func TestLeaveLocalNoSTI(t *testing.T) {
	cpu.EnableInterrupts()
	localCount = 0

	EnterLocal()
	LeaveLocalNoSTI()
	if cpu.InterruptsEnabled() {
		t.Fatal("LeaveLocalNoSTI must not re-enable interrupts")
	}
	if LocalDepth() != 0 {
		t.Fatalf("expected depth 0; got %d", LocalDepth())
	}

	cpu.EnableInterrupts()
}

func TestCriticalLock(t *testing.T) {
	cpu.EnableInterrupts()
	localCount = 0

	var l CriticalLock
	l.Acquire()
	if !l.IsLocked() {
		t.Fatal("expected lock held")
	}
	if cpu.InterruptsEnabled() {
		t.Fatal("expected interrupts disabled while critical lock held")
	}

	l.Release()
	if l.IsLocked() {
		t.Fatal("expected lock released")
	}
	if !cpu.InterruptsEnabled() {
		t.Fatal("expected interrupts re-enabled after release")
	}
}

func TestSpinlock(t *testing.T) {
	var l Spinlock

	if !l.TryToAcquire() {
		t.Fatal("expected to acquire free lock")
	}
	if l.TryToAcquire() {
		t.Fatal("expected TryToAcquire to fail on a held lock")
	}

	l.Release()
	l.Acquire()
	l.Release()
}
