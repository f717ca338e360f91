// Package kmain drives the boot sequence: from the firmware handoff to the
// scheduler owning the machine.
package kmain

import (
	"io"

	"los/kernel"
	"los/kernel/hal"
	"los/kernel/hal/bootinfo"
	"los/kernel/irq"
	"los/kernel/kfmt"
	"los/kernel/mm/buddy"
	"los/kernel/mm/kheap"
	"los/kernel/mm/pmm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
	"los/kernel/time"
)

// buddyBootPages is how many frames the boot path donates to the buddy
// allocator for the slab caches.
const buddyBootPages = 512

// timerIRQ is the legacy timer line.
const timerIRQ = uint8(0)

// Kmain boots the core: physical memory, virtual memory, the heap and page
// allocators, the descriptor tables, interrupt routing and finally the
// first kernel thread. It returns only when no thread can ever run again.
func Kmain(info *bootinfo.BootInfo, consoleSink io.Writer, kinit proc.ThreadFunc) *kernel.Error {
	if consoleSink != nil {
		kfmt.SetOutputSink(consoleSink)
	}

	hal.InstallMemory(info.MemoryMap)
	hal.ProbeFloat()

	if err := pmm.Init(info); err != nil {
		return err
	}

	if err := irq.InitGDT(); err != nil {
		return err
	}
	if err := irq.InitIDT(); err != nil {
		return err
	}
	if err := irq.InitExceptions(defaultExceptionHandler, postExceptionHandler); err != nil {
		return err
	}

	if err := vmm.Init(info); err != nil {
		return err
	}
	if err := kheap.Init(); err != nil {
		return err
	}

	// Donate a run of frames to the buddy allocator; the slab caches
	// draw from it.
	for i := 0; i < buddyBootPages; i++ {
		buddy.InitFree(pmm.Allocate().DirectMap())
	}

	if err := irq.InitIRQs(info.RSDP); err != nil {
		return err
	}

	if err := proc.Init(); err != nil {
		return err
	}
	if err := time.Init(); err != nil {
		return err
	}

	tick, err := time.RegisterSystemTimer("/hpet/0")
	if err != nil {
		return err
	}
	irq.InstallIRQHandler(timerIRQ, func(uintptr) { tick() }, 0)

	irq.SetInstructionReader(vmm.ReadInstruction)

	if _, err := proc.CreateProcess("kinit", kinit, 0, proc.NewDescriptors(), proc.NewSignals(), nil); err != nil {
		return err
	}

	proc.Run()

	kfmt.Printf("[kmain] kernel idle\n")
	return nil
}

// exceptionSignal maps a CPU exception to the signal raised against the
// offending process: division errors terminate through signal 1, everything
// else lands in the exception band above 32.
func exceptionSignal(vector uint64) uint8 {
	if irq.ExceptionNum(vector) == irq.DivideByZero {
		return proc.SignalTerm
	}
	return uint8(32 + vector)
}

// defaultExceptionHandler covers every exception without an installed
// handler: against a user thread it raises the corresponding signal; with
// no current thread it is fatal.
func defaultExceptionHandler(regs *irq.Regs, info *irq.ExceptionInfo) {
	if t := proc.CurrentThreadOption(); t != nil {
		t.Process().Signals.Raise(exceptionSignal(info.Interrupt))
		return
	}

	irq.DumpException(regs, info)
	kernel.Panic(&kernel.Error{
		Module:    "kmain",
		ModuleNum: kernel.ModuleNumKernel,
		Status:    kernel.StatusDeviceError,
		Message:   "unhandled exception before the scheduler took over",
	})
}

// postExceptionHandler runs after every exception: pending signals are
// delivered on the way back out.
func postExceptionHandler(regs *irq.Regs, info *irq.ExceptionInfo) {
	proc.DispatchPendingSignals(regs, info)
}
