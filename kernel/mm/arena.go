package mm

import (
	"unsafe"

	"los/kernel"
)

// pool is one contiguous run of installed physical memory.
type pool struct {
	start PhysicalAddress
	bytes []byte
}

var pools []pool

var errUnbackedPhysical = &kernel.Error{Module: "mm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusOutOfRange, Message: "physical address is not backed by an installed pool"}

// InstallPool registers a contiguous physical memory region with the direct
// map. The boot code installs one pool per usable firmware descriptor run
// before the frame allocator comes up.
func InstallPool(start PhysicalAddress, size uintptr) {
	pools = append(pools, pool{start: start, bytes: make([]byte, size)})
}

// ResetPools discards all installed pools. Used by tests that boot multiple
// synthetic machines in one run.
func ResetPools() {
	pools = nil
}

func poolFor(addr PhysicalAddress, span uintptr) *pool {
	for i := range pools {
		p := &pools[i]
		if addr >= p.start && uintptr(addr-p.start)+span <= uintptr(len(p.bytes)) {
			return p
		}
	}
	return nil
}

// PhysSlice returns the span bytes of physical memory beginning at addr. The
// span must not cross a pool boundary.
func PhysSlice(addr PhysicalAddress, span uintptr) []byte {
	p := poolFor(addr, span)
	if p == nil {
		kernel.Panic(errUnbackedPhysical)
	}
	off := uintptr(addr - p.start)
	return p.bytes[off : off+span]
}

// PhysPointer returns a pointer into the direct map for the given physical
// address.
func PhysPointer(addr PhysicalAddress) unsafe.Pointer {
	return unsafe.Pointer(&PhysSlice(addr, 1)[0])
}

// PhysBacked reports whether the address range is covered by an installed
// pool.
func PhysBacked(addr PhysicalAddress, span uintptr) bool {
	return poolFor(addr, span) != nil
}

// FrameSlice returns the contents of a physical frame as bytes.
func FrameSlice(f Frame) []byte {
	return PhysSlice(f.Address(), PageSize)
}

// FrameTable views a physical frame as a page-table page of 512 entries.
func FrameTable(addr PhysicalAddress) *[512]uint64 {
	return (*[512]uint64)(unsafe.Pointer(&PhysSlice(addr, PageSize)[0]))
}

// ZeroFrame clears a physical frame.
func ZeroFrame(f Frame) {
	b := FrameSlice(f)
	for i := range b {
		b[i] = 0
	}
}

// DirectPointer resolves a kernel-half direct-map virtual address to a
// pointer into the backing pool.
func DirectPointer(v VirtualAddress) unsafe.Pointer {
	return PhysPointer(PhysicalFromDirect(v))
}
