// Package slab implements fixed-object caches on top of the buddy
// allocator. Each slab is a naturally aligned multi-page run whose first
// bytes hold its descriptor, so an object's slab is found in O(1) by
// masking the object's address.
package slab

import (
	"encoding/binary"

	"los/kernel"
	"los/kernel/mm"
	"los/kernel/mm/buddy"
	"los/kernel/sync"
)

const (
	// descriptorSize covers the free list head, the allocation count and
	// the two list links.
	descriptorSize = uintptr(32)

	offFreeHead  = uintptr(0)
	offAllocated = uintptr(8)
	offNext      = uintptr(16)
	offPrev      = uintptr(24)

	// slabMaxOrder bounds the buddy orders considered for a slab.
	slabMaxOrder = uint8(5)

	// maxObjectCount scales the per-object waste score.
	maxObjectCount = 256
)

var (
	errNotInCache = &kernel.Error{Module: "slab", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "pointer does not belong to this cache"}
	errEmptyAlloc = &kernel.Error{Module: "slab", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "freeing from a slab with no allocations"}
	errNoOrder    = &kernel.Error{Module: "slab", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "object too large for any slab order"}
)

// Cache is a per-object-size allocator with full, partial and empty slab
// lists.
type Cache struct {
	objectSize     uintptr
	objectAlign    uintptr
	objectOffset   uintptr
	objectsPerSlab int
	order          uint8
	slabSize       uintptr
	slabMask       uintptr

	lock    sync.CriticalLock
	full    mm.VirtualAddress
	partial mm.VirtualAddress
	empty   mm.VirtualAddress
}

func word(addr mm.VirtualAddress, off uintptr) uint64 {
	return binary.LittleEndian.Uint64(mm.PhysSlice(mm.PhysicalFromDirect(addr)+mm.PhysicalAddress(off), 8))
}

func setWord(addr mm.VirtualAddress, off uintptr, value uint64) {
	binary.LittleEndian.PutUint64(mm.PhysSlice(mm.PhysicalFromDirect(addr)+mm.PhysicalAddress(off), 8), value)
}

// NewCache builds a cache for the given object size and alignment, picking
// the slab order with the lowest waste score.
func NewCache(objectSize, objectAlign uintptr) *Cache {
	if objectAlign < 8 {
		objectAlign = 8
	}
	if objectSize < 8 {
		objectSize = 8
	}
	objectSize = (objectSize + objectAlign - 1) &^ (objectAlign - 1)

	c := &Cache{
		objectSize:  objectSize,
		objectAlign: objectAlign,
	}
	c.pickOrder()
	return c
}

// pickOrder enumerates the orders, computing per-slab waste and scoring it
// by waste * maxObjectCount / n; the lowest score wins, ties going to the
// lowest order.
func (c *Cache) pickOrder() {
	offset := (descriptorSize + c.objectAlign - 1) &^ (c.objectAlign - 1)

	bestScore := ^uintptr(0)
	found := false

	for order := uint8(0); order < slabMaxOrder; order++ {
		slabSize := buddy.OrderToSize(order)
		if slabSize < offset+c.objectSize {
			continue
		}

		n := (slabSize - offset) / c.objectSize
		waste := slabSize - offset - n*c.objectSize

		// A perfect fit ends the search at the lowest such order.
		if waste == 0 {
			c.order = order
			found = true
			break
		}

		score := waste * maxObjectCount / n
		if score < bestScore {
			bestScore = score
			c.order = order
			found = true
		}
	}

	if !found {
		kernel.Panic(errNoOrder)
	}

	c.slabSize = buddy.OrderToSize(c.order)
	c.slabMask = ^(c.slabSize - 1)
	c.objectOffset = offset
	c.objectsPerSlab = int((c.slabSize - offset) / c.objectSize)
}

// ObjectsPerSlab returns how many objects one slab carries.
func (c *Cache) ObjectsPerSlab() int { return c.objectsPerSlab }

// SlabOrder returns the buddy order backing each slab.
func (c *Cache) SlabOrder() uint8 { return c.order }

// newSlab requests a run from the buddy allocator and threads the object
// free list through the object slots.
func (c *Cache) newSlab() mm.VirtualAddress {
	slab := buddy.Allocate(c.order)

	setWord(slab, offAllocated, 0)
	setWord(slab, offNext, 0)
	setWord(slab, offPrev, 0)

	var prev mm.VirtualAddress
	for i := c.objectsPerSlab - 1; i >= 0; i-- {
		obj := slab + mm.VirtualAddress(c.objectOffset+uintptr(i)*c.objectSize)
		setWord(obj, 0, uint64(prev))
		prev = obj
	}
	setWord(slab, offFreeHead, uint64(prev))

	return slab
}

// list helpers: slabs link through their descriptor next/prev words.

func (c *Cache) push(head *mm.VirtualAddress, slab mm.VirtualAddress) {
	setWord(slab, offNext, uint64(*head))
	setWord(slab, offPrev, 0)
	if *head != 0 {
		setWord(*head, offPrev, uint64(slab))
	}
	*head = slab
}

func (c *Cache) unlink(head *mm.VirtualAddress, slab mm.VirtualAddress) {
	next := mm.VirtualAddress(word(slab, offNext))
	prev := mm.VirtualAddress(word(slab, offPrev))

	if prev == 0 {
		*head = next
	} else {
		setWord(prev, offNext, uint64(next))
	}
	if next != 0 {
		setWord(next, offPrev, uint64(prev))
	}
}

// Allocate returns one object, taking it from a partial slab, then an empty
// one, then a freshly built slab.
func (c *Cache) Allocate() mm.VirtualAddress {
	c.lock.Acquire()
	defer c.lock.Release()

	slab := c.partial
	fromList := &c.partial
	if slab == 0 {
		slab = c.empty
		fromList = &c.empty
	}
	if slab == 0 {
		slab = c.newSlab()
		fromList = nil
	}

	obj := mm.VirtualAddress(word(slab, offFreeHead))
	setWord(slab, offFreeHead, word(obj, 0))
	allocated := word(slab, offAllocated) + 1
	setWord(slab, offAllocated, allocated)

	if fromList != nil {
		c.unlink(fromList, slab)
	}

	if int(allocated) == c.objectsPerSlab {
		c.push(&c.full, slab)
	} else {
		c.push(&c.partial, slab)
	}

	return obj
}

// Free returns an object to its slab, found by masking the address with the
// slab mask, and migrates the slab between the lists on the count
// transitions.
func (c *Cache) Free(obj mm.VirtualAddress) {
	c.lock.Acquire()
	defer c.lock.Release()

	slab := obj & mm.VirtualAddress(c.slabMask)
	off := uintptr(obj - slab)
	if off < c.objectOffset || (off-c.objectOffset)%c.objectSize != 0 {
		kernel.Panic(errNotInCache)
	}

	allocated := word(slab, offAllocated)
	if allocated == 0 {
		kernel.Panic(errEmptyAlloc)
	}

	setWord(obj, 0, word(slab, offFreeHead))
	setWord(slab, offFreeHead, uint64(obj))
	allocated--
	setWord(slab, offAllocated, allocated)

	if int(allocated) == c.objectsPerSlab-1 {
		c.unlink(&c.full, slab)
	} else {
		c.unlink(&c.partial, slab)
	}

	if allocated == 0 {
		c.push(&c.empty, slab)
	} else {
		c.push(&c.partial, slab)
	}
}

// listLen counts the slabs on one list.
func listLen(head mm.VirtualAddress) int {
	count := 0
	for slab := head; slab != 0; slab = mm.VirtualAddress(word(slab, offNext)) {
		count++
	}
	return count
}

// Stats reports the slab counts on the full, partial and empty lists.
func (c *Cache) Stats() (full, partial, empty int) {
	c.lock.Acquire()
	defer c.lock.Release()
	return listLen(c.full), listLen(c.partial), listLen(c.empty)
}
