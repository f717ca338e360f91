// Package vmm implements four-level paging: per-process address spaces whose
// upper half aliases a single shared kernel mapping.
package vmm

import (
	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/hal/bootinfo"
	"los/kernel/mm"
	"los/kernel/mm/pmm"
)

// Page table entry flags.
const (
	FlagPresent  = uint64(1 << 0)
	FlagWritable = uint64(1 << 1)
	FlagUser     = uint64(1 << 2)

	entryAddrMask = uint64(0x000F_FFFF_FFFF_F000)

	pageLevels = 4
)

var (
	// The following functions are mocked by tests.
	allocFrameFn = pmm.Allocate
	freeFrameFn  = pmm.Free
	switchPDTFn  = func(addr mm.PhysicalAddress) { cpu.SwitchPDT(uintptr(addr)) }

	errNotMapped     = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusNotFound, Message: "virtual address is not mapped"}
	errKernelSpacePA = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "address space root should be a physical address"}
	errVMMReinit     = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusExists, Message: "virtual memory initialized twice"}

	vmmInitialized bool

	kernelSpace AddressSpace
)

// AddressSpace owns exactly one top-level page table frame.
type AddressSpace struct {
	pml4 mm.PhysicalAddress
}

// Root returns the physical address of the PML4.
func (as AddressSpace) Root() mm.PhysicalAddress {
	return as.pml4
}

// KernelSpace returns the canonical kernel address space.
func KernelSpace() *AddressSpace {
	return &kernelSpace
}

// CurrentAddressSpace returns the address space installed in the page table
// base register.
func CurrentAddressSpace() AddressSpace {
	return AddressSpace{pml4: mm.PhysicalAddress(cpu.ActivePDT())}
}

// newTableFrame allocates and clears one page-table frame.
func newTableFrame() mm.PhysicalAddress {
	addr := allocFrameFn()
	mm.ZeroFrame(mm.FrameFromAddress(addr))
	return addr
}

// Init builds the kernel address space: a PML4 whose 256 upper entries each
// point at a pre-allocated PDPT (so later address spaces can alias them by
// reference), the direct map of every memory map region, and the
// framebuffer. It then installs the space and the page fault handler.
func Init(info *bootinfo.BootInfo) *kernel.Error {
	if vmmInitialized {
		return errVMMReinit
	}
	vmmInitialized = true

	kernelSpace = AddressSpace{pml4: newTableFrame()}
	pml4 := mm.FrameTable(kernelSpace.pml4)
	for i := 256; i < 512; i++ {
		pml4[i] = uint64(newTableFrame()) | FlagPresent | FlagWritable
	}

	// Direct-map every page the firmware reported.
	info.MemoryMap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		addr := mm.PhysicalAddress(desc.PhysicalAddress)
		for i := uintptr(0); i < desc.NumPages; i++ {
			kernelSpace.Allocate(addr.DirectMap(), addr)
			addr += mm.PhysicalAddress(mm.PageSize)
		}
		return true
	})

	// Map the framebuffer into the direct map as well.
	if gmode := info.GraphicsMode; gmode != nil && gmode.FramebufferSize > 0 {
		addr := mm.PhysicalAddress(gmode.Framebuffer) & ^mm.PhysicalAddress(mm.PageSize-1)
		top := mm.PhysicalAddress(gmode.Framebuffer) + mm.PhysicalAddress(gmode.FramebufferSize)
		for ; addr < top; addr += mm.PhysicalAddress(mm.PageSize) {
			kernelSpace.Allocate(addr.DirectMap(), addr)
		}
	}

	kernelSpace.SetAsCurrent()
	installFaultHandlers()
	return nil
}

// Reset discards the kernel address space. Used by tests that boot multiple
// synthetic machines in one run.
func Reset() {
	vmmInitialized = false
	kernelSpace = AddressSpace{}
}

// NewAddressSpace allocates an address space for a new process: a fresh
// PML4 whose upper half shares the kernel mapping by reference and whose
// lower half is empty.
func NewAddressSpace() (AddressSpace, *kernel.Error) {
	as := AddressSpace{pml4: newTableFrame()}

	newPML4 := mm.FrameTable(as.pml4)
	kernelPML4 := mm.FrameTable(kernelSpace.pml4)
	for i := 256; i < 512; i++ {
		newPML4[i] = kernelPML4[i]
	}

	return as, nil
}

func pageIndices(virtAddr mm.VirtualAddress) [pageLevels]uint {
	return [pageLevels]uint{
		uint(virtAddr>>39) & 511,
		uint(virtAddr>>30) & 511,
		uint(virtAddr>>21) & 511,
		uint(virtAddr>>12) & 511,
	}
}

// Allocate maps virtAddr to physAddr, allocating missing intermediate
// tables on the fly. Leaf entries are PRESENT|WRITABLE, plus USER when the
// address lies in the user half.
func (as AddressSpace) Allocate(virtAddr mm.VirtualAddress, physAddr mm.PhysicalAddress) {
	if mm.VirtualAddress(as.pml4) >= mm.KernelVMA {
		kernel.Panic(errKernelSpacePA)
	}

	var user uint64
	if !virtAddr.IsKernel() {
		user = FlagUser
	}

	indices := pageIndices(virtAddr)
	table := mm.FrameTable(as.pml4)
	for level := 0; level < pageLevels-1; level++ {
		entry := table[indices[level]]
		if entry&FlagPresent == 0 {
			next := newTableFrame()
			table[indices[level]] = uint64(next) | FlagPresent | FlagWritable | user
			table = mm.FrameTable(next)
			continue
		}
		table = mm.FrameTable(mm.PhysicalAddress(entry & entryAddrMask))
	}

	table[indices[pageLevels-1]] = uint64(physAddr) | FlagPresent | FlagWritable | user
}

// Translate returns the physical address mapped at virtAddr.
func (as AddressSpace) Translate(virtAddr mm.VirtualAddress) (mm.PhysicalAddress, *kernel.Error) {
	indices := pageIndices(virtAddr)
	table := mm.FrameTable(as.pml4)
	for level := 0; level < pageLevels-1; level++ {
		entry := table[indices[level]]
		if entry&FlagPresent == 0 {
			return 0, errNotMapped
		}
		table = mm.FrameTable(mm.PhysicalAddress(entry & entryAddrMask))
	}

	entry := table[indices[pageLevels-1]]
	if entry&FlagPresent == 0 {
		return 0, errNotMapped
	}

	return mm.PhysicalAddress(entry&entryAddrMask) + mm.PhysicalAddress(uintptr(virtAddr)&(mm.PageSize-1)), nil
}

// SetAsCurrent writes the PML4's physical address to the page table base
// register.
func (as AddressSpace) SetAsCurrent() {
	switchPDTFn(as.pml4)
}

// Drop releases the address space: the four-level walk frees every still
// mapped user-half frame plus the page table frames themselves. The upper
// half is never freed; it belongs to the shared kernel mapping.
func (as *AddressSpace) Drop() {
	pml4 := mm.FrameTable(as.pml4)
	for i := 0; i < 256; i++ {
		if pml4[i]&FlagPresent == 0 {
			continue
		}
		dropTable(mm.PhysicalAddress(pml4[i]&entryAddrMask), 1)
		pml4[i] = 0
	}

	freeFrameFn(as.pml4)
	as.pml4 = 0
}

func dropTable(table mm.PhysicalAddress, level int) {
	entries := mm.FrameTable(table)
	for i := 0; i < 512; i++ {
		if entries[i]&FlagPresent == 0 {
			continue
		}
		child := mm.PhysicalAddress(entries[i] & entryAddrMask)
		if level < pageLevels-1 {
			dropTable(child, level+1)
		} else {
			freeFrameFn(child)
		}
	}

	freeFrameFn(table)
}
