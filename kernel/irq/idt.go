package irq

import (
	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/kfmt"
)

// idt models the 256-gate interrupt descriptor table: each installed gate
// routes its vector into a stub.
var idt [256]func(vector uint8)

var errIDTDoubleInit = &kernel.Error{Module: "idt", ModuleNum: kernel.ModuleNumInterrupts, Status: kernel.StatusExists, Message: "IDT initialized twice"}

var idtInitialized bool

// InitIDT loads the table and points vector acceptance at it.
func InitIDT() *kernel.Error {
	if idtInitialized {
		return errIDTDoubleInit
	}
	idtInitialized = true

	cpu.DispatchVector = acceptVector
	return nil
}

func installInterruptHandler(vector uint8, stub func(vector uint8)) {
	idt[vector] = stub
}

func acceptVector(vector uint8) {
	stub := idt[vector]
	if stub == nil {
		kfmt.Printf("[idt] unexpected interrupt vector %d\n", vector)
		return
	}
	stub(vector)
}
