// Package kerneltest boots synthetic machines for package tests: a memory
// map, the allocators, interrupt routing and the scheduler, torn back down
// when the test finishes.
package kerneltest

import (
	"testing"

	"los/kernel"
	"los/kernel/hal"
	"los/kernel/hal/bootinfo"
	"los/kernel/irq"
	"los/kernel/mm"
	"los/kernel/mm/buddy"
	"los/kernel/mm/kheap"
	"los/kernel/mm/pmm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
	"los/kernel/time"
)

// DefaultMachine is a small machine with plenty of conventional memory.
const DefaultMachine = `
memory:
  - class: LoaderCode
    base: 0x0
    pages: 1
  - class: Conventional
    base: 0x1000
    pages: 16383
kernel:
  base: 0x1000
  size: 0x4000
apic:
  pcat: true
  ioapics: [0xfec00000]
`

func ignoreReinit(err *kernel.Error) {
	if err != nil && err.Status != kernel.StatusExists {
		panic(err)
	}
}

// Boot brings the core up on the described machine and registers teardown.
func Boot(t *testing.T, machineYAML string) *bootinfo.BootInfo {
	t.Helper()

	if machineYAML == "" {
		machineYAML = DefaultMachine
	}

	info, err := bootinfo.LoadConfig([]byte(machineYAML))
	if err != nil {
		t.Fatal(err)
	}

	mm.ResetPools()
	pmm.Reset()
	vmm.Reset()
	kheap.Reset()
	buddy.Reset()
	proc.Reset()
	time.Reset()

	hal.InstallMemory(info.MemoryMap)
	hal.ProbeFloat()

	if err := pmm.Init(info); err != nil {
		t.Fatal(err)
	}

	ignoreReinit(irq.InitGDT())
	ignoreReinit(irq.InitIDT())
	ignoreReinit(irq.InitExceptions(
		func(regs *irq.Regs, info *irq.ExceptionInfo) {},
		func(regs *irq.Regs, info *irq.ExceptionInfo) { proc.DispatchPendingSignals(regs, info) },
	))
	ignoreReinit(irq.InitIRQs(info.RSDP))

	if err := vmm.Init(info); err != nil {
		t.Fatal(err)
	}
	if err := kheap.Init(); err != nil {
		t.Fatal(err)
	}
	if err := proc.Init(); err != nil {
		t.Fatal(err)
	}
	if err := time.Init(); err != nil {
		t.Fatal(err)
	}

	irq.SetInstructionReader(vmm.ReadInstruction)

	t.Cleanup(func() {
		proc.Reset()
		time.Reset()
		vmm.Reset()
		kheap.Reset()
		buddy.Reset()
		pmm.Reset()
		mm.ResetPools()
	})

	return info
}

// Spawn queues a kernel thread in a fresh process and returns the process.
func Spawn(t *testing.T, name string, entry proc.ThreadFunc) *proc.Process {
	t.Helper()

	p, err := proc.CreateProcess(name, entry, 0, proc.NewDescriptors(), proc.NewSignals(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
