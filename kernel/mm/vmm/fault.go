package vmm

import (
	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/irq"
	"los/kernel/kfmt"
	"los/kernel/mm"
)

// GuardSize is the span of the unmapped guard region at the bottom of every
// address space. A non-present fault below it is treated as a null pointer
// dereference rather than a demand-allocation request. One page by default.
var GuardSize = uintptr(mm.PageSize)

// Exit statuses for faults taken against a user thread: 128 plus the signal
// number (32 for a null dereference, 33 for a protection violation).
const (
	nullPointerExitStatus = 128 + 32
	protectionExitStatus  = 128 + 33
)

var (
	errNullDeref  = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "null pointer dereference with no current thread"}
	errProtFault  = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "protection violation with no current thread"}
	errNoExitHook = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusNotFound, Message: "page fault requires process exit but no hook is registered"}

	// Process hooks, registered by the process package once it is up.
	currentThreadExistsFn = func() bool { return false }
	exitProcessFn         = func(status int64) { kernel.Panic(errNoExitHook) }
)

// SetProcessHooks registers the current-thread probe and the process
// termination path used by the fault handler.
func SetProcessHooks(threadExists func() bool, exitProcess func(status int64)) {
	currentThreadExistsFn = threadExists
	exitProcessFn = exitProcess
}

func installFaultHandlers() {
	irq.InstallExceptionHandler(irq.PageFaultException, pageFaultHandler)
}

// pageFaultHandler implements the decision table for exception 14. The page
// table is effectively a cache: a non-present fault above the guard region
// commits a fresh zeroed frame; everything else terminates the offender.
func pageFaultHandler(regs *irq.Regs, info *irq.ExceptionInfo) {
	faultAddr := mm.VirtualAddress(cpu.ReadCR2())

	if info.ErrorCode&1 == 0 {
		if uintptr(faultAddr) < GuardSize {
			if currentThreadExistsFn() {
				exitProcessFn(nullPointerExitStatus)
				return
			}
			kfmt.Printf("\nNull pointer dereference at %16x\n", uintptr(info.RIP))
			kernel.Panic(errNullDeref)
		}

		as := CurrentAddressSpace()
		frame := allocFrameFn()
		mm.ZeroFrame(mm.FrameFromAddress(frame))
		as.Allocate(mm.PageFromAddress(faultAddr).Address(), frame)
		return
	}

	if currentThreadExistsFn() {
		exitProcessFn(protectionExitStatus)
		return
	}

	kfmt.Printf("\nPage protection violation while accessing %16x\n", uintptr(faultAddr))
	regs.Print()
	info.Print()
	kernel.Panic(errProtFault)
}

// Unmap removes the leaf mapping for the page containing virtAddr and
// frees its frame. Reports whether a mapping existed.
func (as AddressSpace) Unmap(virtAddr mm.VirtualAddress) bool {
	indices := pageIndices(virtAddr)
	table := mm.FrameTable(as.pml4)
	for level := 0; level < pageLevels-1; level++ {
		entry := table[indices[level]]
		if entry&FlagPresent == 0 {
			return false
		}
		table = mm.FrameTable(mm.PhysicalAddress(entry & entryAddrMask))
	}

	entry := table[indices[pageLevels-1]]
	if entry&FlagPresent == 0 {
		return false
	}

	table[indices[pageLevels-1]] = 0
	freeFrameFn(mm.PhysicalAddress(entry & entryAddrMask))
	return true
}

// EnsureMapped returns the physical address backing virtAddr, committing a
// zeroed frame the way the fault path would when the page is not yet
// present.
func (as AddressSpace) EnsureMapped(virtAddr mm.VirtualAddress) mm.PhysicalAddress {
	if physAddr, err := as.Translate(virtAddr); err == nil {
		return physAddr
	}

	frame := allocFrameFn()
	mm.ZeroFrame(mm.FrameFromAddress(frame))
	as.Allocate(mm.PageFromAddress(virtAddr).Address(), frame)

	return frame + mm.PhysicalAddress(uintptr(virtAddr)&(mm.PageSize-1))
}
