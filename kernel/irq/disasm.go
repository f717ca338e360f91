package irq

import (
	"golang.org/x/arch/x86/x86asm"

	"los/kernel/kfmt"
)

// instructionReaderFn reads bytes at a virtual address through the current
// address space. It is registered by the boot code once virtual memory is
// up; until then fault dumps skip the disassembly line.
var instructionReaderFn func(virtAddr uintptr, buf []byte) bool

// SetInstructionReader registers the memory reader used to decode faulting
// instructions.
func SetInstructionReader(reader func(virtAddr uintptr, buf []byte) bool) {
	instructionReaderFn = reader
}

// dumpFaultInstruction decodes and prints the instruction at the faulting
// RIP, when the bytes are reachable.
func dumpFaultInstruction(rip uint64) {
	if instructionReaderFn == nil || rip == 0 {
		return
	}

	var buf [15]byte
	if !instructionReaderFn(uintptr(rip), buf[:]) {
		return
	}

	inst, err := x86asm.Decode(buf[:], 64)
	if err != nil {
		kfmt.Printf("[irq] cannot decode instruction at %16x\n", rip)
		return
	}

	kfmt.Printf("[irq] faulting instruction at %16x: %s\n", rip, inst.String())
}

// DumpException prints the standard unhandled-exception report: frame,
// registers and the decoded faulting instruction.
func DumpException(regs *Regs, info *ExceptionInfo) {
	kfmt.Printf("\nUnhandled exception %d\n", info.Interrupt)
	info.Print()
	regs.Print()
	dumpFaultInstruction(info.RIP)
}
