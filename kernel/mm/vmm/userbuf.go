package vmm

import (
	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/irq"
	"los/kernel/mm"
)

// Page fault error code bits.
const (
	faultCodePresent = uint64(1 << 0)
	faultCodeWrite   = uint64(1 << 1)
)

var errUserFault = &kernel.Error{Module: "vmm", ModuleNum: kernel.ModuleNumMemory, Status: kernel.StatusInvalidArgument, Message: "user address unreachable after fault service"}

// touch faults the page containing virtAddr into the current address space
// exactly as a hardware access would: it latches CR2, raises exception 14
// and retries the translation once the handler returns.
func touch(virtAddr mm.VirtualAddress, write bool, rip uint64) (mm.PhysicalAddress, *kernel.Error) {
	as := CurrentAddressSpace()
	if physAddr, err := as.Translate(virtAddr); err == nil {
		return physAddr, nil
	}

	code := uint64(0)
	if write {
		code |= faultCodeWrite
	}

	cpu.WriteCR2(uintptr(virtAddr))
	irq.DispatchException(irq.PageFaultException, code, rip, nil)

	physAddr, err := as.Translate(virtAddr)
	if err != nil {
		return 0, errUserFault
	}
	return physAddr, nil
}

// StoreUser writes one byte at a user virtual address through the current
// address space, faulting the page in if needed.
func StoreUser(virtAddr mm.VirtualAddress, value byte, rip uint64) *kernel.Error {
	physAddr, err := touch(virtAddr, true, rip)
	if err != nil {
		return err
	}
	mm.PhysSlice(physAddr, 1)[0] = value
	return nil
}

// LoadUser reads one byte at a user virtual address through the current
// address space.
func LoadUser(virtAddr mm.VirtualAddress, rip uint64) (byte, *kernel.Error) {
	physAddr, err := touch(virtAddr, false, rip)
	if err != nil {
		return 0, err
	}
	return mm.PhysSlice(physAddr, 1)[0], nil
}

// CopyToUser copies data into the current address space at virtAddr,
// committing missing pages along the way.
func CopyToUser(virtAddr mm.VirtualAddress, data []byte) *kernel.Error {
	for len(data) > 0 {
		physAddr, err := touch(virtAddr, true, 0)
		if err != nil {
			return err
		}

		chunk := int(mm.PageSize - (uintptr(virtAddr) & (mm.PageSize - 1)))
		if chunk > len(data) {
			chunk = len(data)
		}

		copy(mm.PhysSlice(physAddr, uintptr(chunk)), data[:chunk])
		data = data[chunk:]
		virtAddr += mm.VirtualAddress(chunk)
	}
	return nil
}

// CopyFromUser fills buf from the current address space at virtAddr.
func CopyFromUser(buf []byte, virtAddr mm.VirtualAddress) *kernel.Error {
	for len(buf) > 0 {
		physAddr, err := touch(virtAddr, false, 0)
		if err != nil {
			return err
		}

		chunk := int(mm.PageSize - (uintptr(virtAddr) & (mm.PageSize - 1)))
		if chunk > len(buf) {
			chunk = len(buf)
		}

		copy(buf[:chunk], mm.PhysSlice(physAddr, uintptr(chunk)))
		buf = buf[chunk:]
		virtAddr += mm.VirtualAddress(chunk)
	}
	return nil
}

// ReadInstruction reads up to len(buf) bytes at virtAddr through the current
// address space without committing missing pages. Used by the exception
// dump path.
func ReadInstruction(virtAddr uintptr, buf []byte) bool {
	as := CurrentAddressSpace()
	for i := range buf {
		physAddr, err := as.Translate(mm.VirtualAddress(virtAddr) + mm.VirtualAddress(i))
		if err != nil {
			return i > 0
		}
		buf[i] = mm.PhysSlice(physAddr, 1)[0]
	}
	return true
}
