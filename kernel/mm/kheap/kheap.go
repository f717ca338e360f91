// Package kheap implements the kernel heap: a doubly linked implicit list of
// blocks inside a fixed 1 TiB virtual reservation. Frames are committed
// lazily, the first time a block header or payload page is touched.
package kheap

import (
	"encoding/binary"

	"los/kernel"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
	"los/kernel/sync"
)

const (
	// signature guards every block header; a mismatch means heap
	// corruption and is fatal.
	signature = uint64(0x71926360D3B6CF37)

	// sentinelSize marks the bottom and top sentinel size fields.
	sentinelSize = uint64(2)

	blockHeaderSize = uintptr(24)

	sizeMask = ^uint64(7)
	freeBit  = uint64(1)
)

var (
	errCorruption = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusOutOfRange, Message: "heap corruption detected"}
	errDoubleFree = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "double free of heap block"}
	errOutOfHeap  = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusOutOfMemory, Message: "out of kernel heap memory"}
	errHeapReinit = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusExists, Message: "kernel heap initialized twice"}
	errZeroSize   = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "creating zero size heap block"}
	errBeforeInit = &kernel.Error{Module: "kheap", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusNotFound, Message: "heap used before initialization"}

	heapStart = mm.VirtualAddress(uintptr(mm.KernelVMA) + mm.HeapStartOffset)

	lock        sync.CriticalLock
	initialized bool
)

// word reads a naturally aligned 64-bit heap word, committing the backing
// frame on first touch.
func word(addr mm.VirtualAddress) uint64 {
	pa := vmm.KernelSpace().EnsureMapped(addr)
	return binary.LittleEndian.Uint64(mm.PhysSlice(pa, 8))
}

func setWord(addr mm.VirtualAddress, value uint64) {
	pa := vmm.KernelSpace().EnsureMapped(addr)
	binary.LittleEndian.PutUint64(mm.PhysSlice(pa, 8), value)
}

// block is the virtual address of a header: below size word, signature word,
// above size word. The low bit of a size word marks the adjacent region
// free; the value 2 marks a sentinel.
type block mm.VirtualAddress

func (b block) belowSizeRaw() uint64 { return word(mm.VirtualAddress(b)) }
func (b block) aboveSizeRaw() uint64 { return word(mm.VirtualAddress(b) + 16) }

func (b block) belowSize() uintptr { return uintptr(b.belowSizeRaw() & sizeMask) }
func (b block) aboveSize() uintptr { return uintptr(b.aboveSizeRaw() & sizeMask) }

func (b block) isBelowFree() bool { return b.belowSizeRaw()&freeBit != 0 }
func (b block) isAboveFree() bool { return b.aboveSizeRaw()&freeBit != 0 }

func (b block) checkSignature() {
	if word(mm.VirtualAddress(b)+8) != signature {
		kernel.Panic(errCorruption)
	}
}

func (b block) writeSignature() { setWord(mm.VirtualAddress(b)+8, signature) }

func (b block) setBelow(free bool) {
	raw := b.belowSizeRaw()
	if raw == sentinelSize {
		return
	}
	if free {
		raw |= freeBit
	} else {
		raw &^= freeBit
	}
	setWord(mm.VirtualAddress(b), raw)
}

func (b block) setAbove(free bool) {
	raw := b.aboveSizeRaw()
	if raw == sentinelSize {
		return
	}
	if free {
		raw |= freeBit
	} else {
		raw &^= freeBit
	}
	setWord(mm.VirtualAddress(b)+16, raw)
}

func (b block) setBelowSize(size uintptr) {
	if size == 0 {
		kernel.Panic(errZeroSize)
	}
	raw := b.belowSizeRaw()
	if raw == sentinelSize {
		return
	}
	setWord(mm.VirtualAddress(b), uint64(size)&sizeMask|raw&7)
}

func (b block) setAboveSize(size uintptr) {
	if size == 0 {
		kernel.Panic(errZeroSize)
	}
	raw := b.aboveSizeRaw()
	if raw == sentinelSize {
		return
	}
	setWord(mm.VirtualAddress(b)+16, uint64(size)&sizeMask|raw&7)
}

// write lays down a full header.
func (b block) write(belowSize uintptr, belowFree bool, aboveSize uintptr, aboveFree bool) {
	if belowSize == 0 || aboveSize == 0 {
		kernel.Panic(errZeroSize)
	}

	below := uint64(belowSize) & sizeMask
	if belowFree {
		below |= freeBit
	}
	above := uint64(aboveSize) & sizeMask
	if aboveFree {
		above |= freeBit
	}

	setWord(mm.VirtualAddress(b), below)
	b.writeSignature()
	setWord(mm.VirtualAddress(b)+16, above)
}

// next returns the header above this one, or 0 at the top sentinel.
func (b block) next() block {
	if b.aboveSizeRaw() == sentinelSize {
		return 0
	}
	return block(mm.VirtualAddress(b) + mm.VirtualAddress(b.aboveSize()+blockHeaderSize))
}

// prev returns the header below this one, or 0 at the bottom sentinel.
func (b block) prev() block {
	if b.belowSizeRaw() == sentinelSize {
		return 0
	}
	return block(mm.VirtualAddress(b) - mm.VirtualAddress(b.belowSize()+blockHeaderSize))
}

// Init seeds the reservation with a single free block between the two
// sentinels.
func Init() *kernel.Error {
	if initialized {
		return errHeapReinit
	}
	initialized = true

	bottom := block(heapStart)
	span := mm.HeapSize - 2*blockHeaderSize

	// Bottom sentinel: below size 2, the whole reservation free above.
	setWord(mm.VirtualAddress(bottom), sentinelSize)
	bottom.writeSignature()
	setWord(mm.VirtualAddress(bottom)+16, uint64(span)|freeBit)

	// Top sentinel mirrors it.
	top := bottom.next()
	setWord(mm.VirtualAddress(top), uint64(span)|freeBit)
	top.writeSignature()
	setWord(mm.VirtualAddress(top)+16, sentinelSize)

	return nil
}

// Reset returns the heap to its pre-Init state. Used by tests that boot
// multiple synthetic machines in one run.
func Reset() {
	initialized = false
}

// Alloc reserves size bytes with the requested alignment and returns the
// payload virtual address. Size and alignment are rounded up to 8.
func Alloc(size, align uintptr) mm.VirtualAddress {
	if !initialized {
		kernel.Panic(errBeforeInit)
	}
	if size == 0 {
		return 0
	}

	if size <= 8 {
		size = 8
	} else if size%8 != 0 {
		size = (size + 7) &^ 7
	}
	if align <= 8 {
		align = 8
	}

	lock.Acquire()
	defer lock.Release()

	current := block(heapStart)
	for {
		current.checkSignature()

		if current.isAboveFree() {
			if ptr, ok := takeBlock(&current, size, align); ok {
				return ptr
			}
		}

		next := current.next()
		if next == 0 {
			break
		}
		current = next
	}

	kernel.Panic(errOutOfHeap)
	return 0
}

// takeBlock attempts to satisfy the request from the free region above
// current, splitting and shifting for alignment as needed. current may be
// advanced to a shifted header.
func takeBlock(currentPtr *block, size, align uintptr) (mm.VirtualAddress, bool) {
	current := *currentPtr
	ptr := mm.VirtualAddress(current) + mm.VirtualAddress(blockHeaderSize)

	if current.aboveSize() == size {
		if uintptr(ptr)%align != 0 {
			return 0, false
		}

		current.setAbove(false)
		current.next().setBelow(false)
		return ptr, true
	}

	if current.aboveSize() < size+blockHeaderSize {
		return 0, false
	}

	if uintptr(ptr)%align != 0 {
		// Shift the header up to alignment, growing the region below
		// and shrinking the one above.
		increase := align - uintptr(ptr)%align
		newSizeBelow := current.belowSize() + increase
		newSizeAbove := current.aboveSize() - increase

		previous := current.prev()
		next := current.next()

		// The bottom sentinel cannot be shifted.
		if previous == 0 {
			return 0, false
		}

		if newSizeAbove == size {
			previous.setAboveSize(newSizeBelow)
			next.setBelowSize(newSizeAbove)
			next.setBelow(false)

			shifted := block(mm.VirtualAddress(current) + mm.VirtualAddress(increase))
			shifted.write(newSizeBelow, previous.isAboveFree(), newSizeAbove, false)

			*currentPtr = shifted
			return ptr + mm.VirtualAddress(increase), true
		}

		if newSizeAbove < size+blockHeaderSize {
			return 0, false
		}

		previous.setAboveSize(newSizeBelow)
		next.setBelowSize(newSizeAbove)

		shifted := block(mm.VirtualAddress(current) + mm.VirtualAddress(increase))
		shifted.write(newSizeBelow, previous.isAboveFree(), newSizeAbove, true)

		current = shifted
		*currentPtr = shifted
		ptr = mm.VirtualAddress(current) + mm.VirtualAddress(blockHeaderSize)
	}

	// Carve a new free remainder above the allocation.
	remainder := current.aboveSize() - size - blockHeaderSize
	next := current.next()

	current.setAbove(false)

	if remainder != 0 {
		current.setAboveSize(size)

		newBlock := block(ptr + mm.VirtualAddress(size))
		newBlock.write(size, false, remainder, true)

		next.setBelowSize(remainder)
		next.setBelow(true)
	} else {
		next.setBelow(false)
	}

	return ptr, true
}

// Free releases a previously allocated payload pointer, eagerly coalescing
// with free neighbours so that no two adjacent free regions remain.
func Free(ptr mm.VirtualAddress) {
	if !initialized {
		kernel.Panic(errBeforeInit)
	}
	if ptr == 0 {
		return
	}

	lock.Acquire()
	defer lock.Release()

	current := block(ptr - mm.VirtualAddress(blockHeaderSize))
	current.checkSignature()

	if current.isAboveFree() {
		kernel.Panic(errDoubleFree)
	}

	next := current.next()
	next.checkSignature()

	prevFree := current.isBelowFree()
	nextFree := next.isAboveFree()

	switch {
	case prevFree && nextFree:
		// Merge all three regions into the gap above the previous
		// header; both inner headers disappear.
		previous := current.prev()
		nextNext := next.next()
		total := current.belowSize() + current.aboveSize() + next.aboveSize() + 2*blockHeaderSize

		previous.setAboveSize(total)
		nextNext.setBelowSize(total)

	case prevFree:
		previous := current.prev()
		total := current.belowSize() + current.aboveSize() + blockHeaderSize

		previous.setAboveSize(total)
		next.setBelowSize(total)
		next.setBelow(true)

	case nextFree:
		nextNext := next.next()
		total := current.aboveSize() + next.aboveSize() + blockHeaderSize

		current.setAboveSize(total)
		current.setAbove(true)
		nextNext.setBelowSize(total)

	default:
		current.setAbove(true)
		next.setBelow(true)
	}
}

// VisitBlocks walks every region between the sentinels, invoking visitor
// with the payload address, the region size and its free flag. Stops early
// if the visitor returns false.
func VisitBlocks(visitor func(payload mm.VirtualAddress, size uintptr, free bool) bool) {
	if !initialized {
		return
	}

	lock.Acquire()
	defer lock.Release()

	current := block(heapStart)
	for {
		current.checkSignature()

		next := current.next()
		if next == 0 {
			return
		}

		payload := mm.VirtualAddress(current) + mm.VirtualAddress(blockHeaderSize)
		if !visitor(payload, current.aboveSize(), current.isAboveFree()) {
			return
		}

		current = next
	}
}
