// Package hal performs machine bring-up from the firmware handoff: it backs
// the usable memory map regions with the direct map and probes the CPU
// features the rest of the core depends on.
package hal

import (
	hostcpu "golang.org/x/sys/cpu"

	"los/kernel/hal/bootinfo"
	"los/kernel/kfmt"
	"los/kernel/mm"
)

// FloatMechanism selects how per-thread floating point state is saved.
type FloatMechanism int

const (
	// FloatFXSave is the 512-byte FXSAVE/FXRSTOR region every thread
	// carries.
	FloatFXSave FloatMechanism = iota

	// FloatXSave indicates the processor additionally supports the
	// XSAVE family; the core still saves the legacy 512-byte region.
	FloatXSave
)

var activeFloatMechanism = FloatFXSave

// InstallMemory registers every usable memory map region with the direct
// map.
func InstallMemory(mmap *bootinfo.MemoryMap) {
	mmap.Visit(func(desc *bootinfo.MemoryDescriptor) bool {
		if desc.Class.Usable() {
			mm.InstallPool(mm.PhysicalAddress(desc.PhysicalAddress), desc.NumPages*mm.PageSize)
		}
		return true
	})
}

// ProbeFloat detects the floating point save mechanism.
func ProbeFloat() FloatMechanism {
	if hostcpu.X86.HasOSXSAVE && hostcpu.X86.HasAVX {
		activeFloatMechanism = FloatXSave
	} else {
		activeFloatMechanism = FloatFXSave
	}

	kfmt.Printf("[hal] float save mechanism: %s\n", activeFloatMechanism.String())
	return activeFloatMechanism
}

// ActiveFloatMechanism returns the mechanism selected by ProbeFloat.
func ActiveFloatMechanism() FloatMechanism {
	return activeFloatMechanism
}

// String describes the mechanism.
func (m FloatMechanism) String() string {
	if m == FloatXSave {
		return "xsave"
	}
	return "fxsave"
}
