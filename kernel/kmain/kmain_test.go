package kmain

import (
	"bytes"
	"strings"
	"testing"

	"los/kernel/cpu"
	"los/kernel/hal/bootinfo"
	"los/kernel/irq"
	"los/kernel/mm/pmm"
	"los/kernel/proc"
	"los/kernel/time"
)

const bootMachine = `
memory:
  - class: LoaderCode
    base: 0x0
    pages: 1
  - class: Conventional
    base: 0x1000
    pages: 16383
kernel:
  base: 0x1000
  size: 0x8000
framebuffer:
  width: 64
  height: 64
  base: 0x4000000
apic:
  pcat: true
  ioapics: [0xfec00000]
`

func TestBootToIdle(t *testing.T) {
	info, err := bootinfo.LoadConfig([]byte(bootMachine))
	if err != nil {
		t.Fatal(err)
	}

	// The framebuffer must be backed so the boot path can map it.
	info.MemoryMap.Descriptors = append(info.MemoryMap.Descriptors, bootinfo.MemoryDescriptor{
		Class:           bootinfo.MemMappedIO,
		PhysicalAddress: 0x4000000,
		NumPages:        4,
	})

	var console bytes.Buffer
	ranKinit := false
	tickedTo := uint64(0)

	kerr := Kmain(info, &console, func(uintptr) int64 {
		ranKinit = true

		// Drive a few timer interrupts through the installed IRQ 0
		// handler, the way the timer driver would; they are accepted
		// at the next STI window.
		for i := 0; i < 25; i++ {
			irq.RaiseIRQ(0)
		}
		cpu.EnableInterrupts()
		tickedTo = time.CurrentTimeMillis()
		return 0
	})
	if kerr != nil {
		t.Fatalf("boot failed: %s", kerr.Message)
	}

	if !ranKinit {
		t.Fatal("kinit never ran")
	}
	if proc.CurrentThreadOption() != nil {
		t.Fatal("expected no current thread at idle")
	}
	if pmm.FreePages() == 0 {
		t.Fatal("expected free frames at idle")
	}

	log := console.String()
	if !strings.Contains(log, "kernel idle") {
		t.Fatalf("expected idle banner in console log:\n%s", log)
	}
	if !strings.Contains(log, "registered as system timer") {
		t.Fatalf("expected system timer registration in log:\n%s", log)
	}
	if tickedTo == 0 {
		t.Fatal("expected the millisecond clock to advance under timer interrupts")
	}
}
