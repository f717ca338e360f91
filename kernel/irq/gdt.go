package irq

import (
	"los/kernel"
	"los/kernel/cpu"
)

// Segment selectors into the flat GDT.
const (
	SelectorNull       = 0x00
	SelectorKernelCode = 0x08
	SelectorKernelData = 0x10
	SelectorUserData   = 0x18 | 3
	SelectorUserCode   = 0x20 | 3
	SelectorTSS        = 0x28
)

const (
	gdtAccessAccessed   = 1 << 0
	gdtAccessReadWrite  = 1 << 1
	gdtAccessExecutable = 1 << 3
	gdtAccessType       = 1 << 4
	gdtAccessDPL3       = 3 << 5
	gdtAccessPresent    = 1 << 7

	gdtFlags64Code     = 1 << 5
	gdtFlagsSize       = 1 << 6
	gdtFlagsGranlarity = 1 << 7
)

// gdtEntry is one 8-byte descriptor.
type gdtEntry struct {
	limitLow       uint16
	baseLow        uint16
	baseMid        uint8
	access         uint8
	flagsLimitHigh uint8
	baseHigh       uint8
}

// tss carries the single stack pointer the CPU loads on a ring 3 to ring 0
// transition.
type tss struct {
	rsp0 uintptr
	ist  [7]uintptr
}

var (
	errGDTDoubleInit = &kernel.Error{Module: "gdt", ModuleNum: kernel.ModuleNumInterrupts, Status: kernel.StatusExists, Message: "GDT initialized twice"}

	gdtInitialized bool

	// The GDT and TSS never change after boot (the TSS rsp0 field aside)
	// so neither needs a critical lock.
	gdt    [7]gdtEntry
	tssSeg tss
)

func newSegment(executable, user, writable, longMode bool) gdtEntry {
	access := uint8(gdtAccessType | gdtAccessPresent)
	if executable {
		access |= gdtAccessExecutable
	}
	if writable {
		access |= gdtAccessReadWrite
	}
	if user {
		access |= gdtAccessDPL3
	}

	flags := uint8(gdtFlagsGranlarity)
	if longMode {
		flags |= gdtFlags64Code
	} else {
		flags |= gdtFlagsSize
	}

	return gdtEntry{
		limitLow:       0xFFFF,
		access:         access,
		flagsLimitHigh: flags | 0x0F,
	}
}

// InitGDT builds the seven-entry flat table (null, ring-0 code, ring-0 data,
// ring-3 data, ring-3 code, TSS low, TSS high) and loads it.
func InitGDT() *kernel.Error {
	if gdtInitialized {
		return errGDTDoubleInit
	}
	gdtInitialized = true

	gdt[1] = newSegment(true, false, false, true)  // CODE 0
	gdt[2] = newSegment(false, false, true, false) // DATA 0
	gdt[3] = newSegment(false, true, true, false)  // DATA 3
	gdt[4] = newSegment(true, true, false, true)   // CODE 3

	// The 16-byte TSS descriptor occupies the last two slots.
	gdt[5] = gdtEntry{
		limitLow:       104,
		access:         gdtAccessAccessed | gdtAccessExecutable | gdtAccessDPL3 | gdtAccessPresent,
		flagsLimitHigh: gdtFlagsGranlarity,
	}
	gdt[6] = gdtEntry{}

	return nil
}

// SetInterruptStack points TSS.rsp0 at the supplied kernel stack top so the
// next ring transition lands on it, and mirrors the value for the SYSCALL
// fast path.
func SetInterruptStack(stackTop uintptr) {
	tssSeg.rsp0 = stackTop
	cpu.CurrentKernelStack = stackTop
}

// InterruptStack returns the kernel stack top a ring transition would land
// on.
func InterruptStack() uintptr {
	return tssSeg.rsp0
}
