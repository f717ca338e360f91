package proc

import (
	"testing"

	"los/kernel/irq"
)

// release lets the parked context of a never-dispatched thread unwind.
func release(t *Thread) {
	t.dropping = true
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

func TestKernelEntryStackLayout(t *testing.T) {
	p := &Process{threads: NewMap[*Thread]()}
	entry := func(uintptr) int64 { return 0 }

	th := newThread(p, entry, 0xCAFE)
	defer release(th)

	slots := th.kernelStack.Slots()
	if len(slots) != 16 {
		t.Fatalf("expected 16 saved slots; got %d", len(slots))
	}

	// Lowest address first: r15..r8, rbp, rdi, rsi, rdx, rcx, rbx, rax,
	// return address.
	if slots[9] != funcAddr(entry) {
		t.Fatalf("rdi slot must carry the entry address; got %x", slots[9])
	}
	if slots[10] != 0xCAFE {
		t.Fatalf("rsi slot must carry the context; got %x", slots[10])
	}
	if slots[15] != funcAddr(threadEnterKernel) {
		t.Fatalf("return address must be the kernel trampoline; got %x", slots[15])
	}

	for _, i := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 11, 12, 13, 14} {
		if slots[i] != 0 {
			t.Fatalf("slot %d expected zero; got %x", i, slots[i])
		}
	}
}

func TestUserEntryStackLayout(t *testing.T) {
	p := &Process{threads: NewMap[*Thread]()}

	th := newUserThread(p, 0x40_1000, 0x5FFF_0000, 0x6000_0000)
	defer release(th)

	slots := th.kernelStack.Slots()
	if len(slots) != 21 {
		t.Fatalf("expected 16 saved slots plus the IRETQ frame; got %d", len(slots))
	}

	if slots[9] != 0x5FFF_0000 {
		t.Fatalf("rdi slot must carry the context; got %x", slots[9])
	}
	if slots[15] != funcAddr(threadEnterUser) {
		t.Fatalf("return address must be the user trampoline; got %x", slots[15])
	}

	// The IRETQ frame beneath: RIP, CS, RFLAGS, RSP, SS.
	if slots[16] != 0x40_1000 {
		t.Fatalf("IRETQ RIP mismatch: %x", slots[16])
	}
	if slots[17] != irq.SelectorUserCode {
		t.Fatalf("IRETQ CS mismatch: %x", slots[17])
	}
	if slots[18] != userRFlags {
		t.Fatalf("IRETQ RFLAGS mismatch: %x", slots[18])
	}
	if slots[19] != 0x6000_0000 {
		t.Fatalf("IRETQ RSP mismatch: %x", slots[19])
	}
	if slots[20] != irq.SelectorUserData {
		t.Fatalf("IRETQ SS mismatch: %x", slots[20])
	}
}

func TestSortedThreadQueueOrdering(t *testing.T) {
	p := &Process{threads: NewMap[*Thread]()}

	var q SortedThreadQueue
	a := newThread(p, func(uintptr) int64 { return 0 }, 0)
	b := newThread(p, func(uintptr) int64 { return 0 }, 0)
	c := newThread(p, func(uintptr) int64 { return 0 }, 0)
	defer release(a)
	defer release(b)
	defer release(c)

	q.Insert(b, 20)
	q.Insert(a, 10)
	q.Insert(c, 30)

	if got := q.PopExpired(5); got != nil {
		t.Fatal("nothing should expire before the lowest key")
	}
	if got := q.PopExpired(15); got != a {
		t.Fatal("expected the lowest key first")
	}
	if got := q.PopExpired(15); got != nil {
		t.Fatal("key 20 must not expire at 15")
	}

	// Self-removal through the current-queue handle.
	handle := q.CurrentQueue(25)
	handle.Add(a)
	if !handle.Remove(a) {
		t.Fatal("expected handle removal to succeed")
	}

	if got := q.PopExpired(100); got != b {
		t.Fatal("expected key 20 next")
	}
	if got := q.PopExpired(100); got != c {
		t.Fatal("expected key 30 last")
	}
}
