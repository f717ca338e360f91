// Package buddy implements the higher-order page allocator: sixteen free
// lists of power-of-two page runs whose headers live at the start of the
// free pages themselves, guarded by poison words that encode the order.
package buddy

import (
	"encoding/binary"

	"los/kernel"
	"los/kernel/mm"
	"los/kernel/sync"
)

// MaxOrder bounds the allocation order; the largest run is
// PageSize << (MaxOrder - 1).
const MaxOrder = 16

const (
	headerPoison = uint64(0xE18E3EA7023551FB)
	footerPoison = uint64(0x6AC66D0950305DA9)

	offPoison = 0
	offNext   = 8
	offOrder  = 16
)

var (
	errPoison     = &kernel.Error{Module: "buddy", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusOutOfRange, Message: "buddy page poison mismatch"}
	errBadOrder   = &kernel.Error{Module: "buddy", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "order out of range"}
	errNoPage     = &kernel.Error{Module: "buddy", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusOutOfMemory, Message: "no page run satisfies the requested order"}
	errMisaligned = &kernel.Error{Module: "buddy", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "address not aligned to its order"}

	lock      sync.CriticalLock
	freeLists [MaxOrder]mm.VirtualAddress
)

// OrderToSize returns the byte size of an order k run.
func OrderToSize(order uint8) uintptr {
	return mm.PageSize << order
}

func word(addr mm.VirtualAddress, off uintptr) uint64 {
	return binary.LittleEndian.Uint64(mm.PhysSlice(mm.PhysicalFromDirect(addr)+mm.PhysicalAddress(off), 8))
}

func setWord(addr mm.VirtualAddress, off uintptr, value uint64) {
	binary.LittleEndian.PutUint64(mm.PhysSlice(mm.PhysicalFromDirect(addr)+mm.PhysicalAddress(off), 8), value)
}

// page is the header written at the start of a free run.
type page mm.VirtualAddress

func (p page) order() uint8            { return uint8(word(mm.VirtualAddress(p), offOrder)) }
func (p page) next() mm.VirtualAddress { return mm.VirtualAddress(word(mm.VirtualAddress(p), offNext)) }
func (p page) setNext(n mm.VirtualAddress) {
	p.checkPoisons()
	setWord(mm.VirtualAddress(p), offNext, uint64(n))
}

func (p page) checkPoisons() {
	order := p.order()
	adjust := uint64(order) * 7
	if order >= MaxOrder ||
		word(mm.VirtualAddress(p), offPoison) != headerPoison+adjust ||
		word(mm.VirtualAddress(p), OrderToSize(order)-8) != footerPoison-adjust {
		kernel.Panic(errPoison)
	}
}

// initialize lays down the header and both poison words for a run of the
// given order.
func (p page) initialize(order uint8) {
	if order >= MaxOrder {
		kernel.Panic(errBadOrder)
	}
	if uintptr(p)%OrderToSize(order) != 0 {
		kernel.Panic(errMisaligned)
	}

	adjust := uint64(order) * 7
	setWord(mm.VirtualAddress(p), offPoison, headerPoison+adjust)
	setWord(mm.VirtualAddress(p), offNext, 0)
	setWord(mm.VirtualAddress(p), offOrder, uint64(order))
	setWord(mm.VirtualAddress(p), OrderToSize(order)-8, footerPoison-adjust)
}

func insert(order uint8, addr mm.VirtualAddress) {
	p := page(addr)
	p.initialize(order)
	p.setNext(freeLists[order])
	freeLists[order] = addr
}

func pop(order uint8) mm.VirtualAddress {
	addr := freeLists[order]
	if addr == 0 {
		return 0
	}

	p := page(addr)
	p.checkPoisons()
	freeLists[order] = p.next()
	return addr
}

// remove unlinks the run at addr from the order's free list, reporting
// whether it was present.
func remove(order uint8, addr mm.VirtualAddress) bool {
	current := freeLists[order]
	var prev page

	for current != 0 {
		p := page(current)
		p.checkPoisons()

		if current == addr {
			if prev == 0 {
				freeLists[order] = p.next()
			} else {
				prev.setNext(p.next())
			}
			return true
		}

		prev = p
		current = p.next()
	}

	return false
}

// Allocate returns a run of 2^order pages. When the order's list is empty
// the lowest non-empty higher order is split down, pushing the buddy halves
// onto the lower lists.
func Allocate(order uint8) mm.VirtualAddress {
	if order >= MaxOrder {
		kernel.Panic(errBadOrder)
	}

	lock.Acquire()
	defer lock.Release()

	if addr := pop(order); addr != 0 {
		return addr
	}

	for t := order + 1; t < MaxOrder; t++ {
		addr := pop(t)
		if addr == 0 {
			continue
		}

		for o := t - 1; ; o-- {
			insert(o, addr+mm.VirtualAddress(OrderToSize(o)))
			if o == order {
				break
			}
		}
		return addr
	}

	kernel.Panic(errNoPage)
	return 0
}

// Free returns a run to the allocator, merging with its buddy when the
// buddy is free at the same order.
func Free(addr mm.VirtualAddress, order uint8) {
	if order >= MaxOrder {
		kernel.Panic(errBadOrder)
	}

	lock.Acquire()
	defer lock.Release()
	freeLocked(addr, order)
}

func freeLocked(addr mm.VirtualAddress, order uint8) {
	if order == MaxOrder-1 {
		insert(order, addr)
		return
	}

	buddy := addr ^ mm.VirtualAddress(OrderToSize(order))
	if remove(order, buddy) {
		main := addr
		if buddy < main {
			main = buddy
		}
		freeLocked(main, order+1)
		return
	}

	insert(order, addr)
}

// InitFree donates one page to the allocator during boot, skipping pages
// that already landed in a free list through an earlier merge.
func InitFree(addr mm.VirtualAddress) {
	lock.Acquire()
	defer lock.Release()

	for order := uint8(0); order < MaxOrder; order++ {
		aligned := addr & ^mm.VirtualAddress(OrderToSize(order)-1)
		if contains(order, aligned) {
			return
		}
	}

	freeLocked(addr, 0)
}

func contains(order uint8, addr mm.VirtualAddress) bool {
	for current := freeLists[order]; current != 0; current = page(current).next() {
		if current == addr {
			return true
		}
	}
	return false
}

// FreeRunCount returns the number of runs queued at the given order.
func FreeRunCount(order uint8) int {
	lock.Acquire()
	defer lock.Release()

	count := 0
	for current := freeLists[order]; current != 0; current = page(current).next() {
		count++
	}
	return count
}

// Reset discards all free lists. Used by tests that boot multiple synthetic
// machines in one run.
func Reset() {
	lock.Acquire()
	freeLists = [MaxOrder]mm.VirtualAddress{}
	lock.Release()
}
