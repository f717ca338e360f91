package syscalls

import (
	"los/kernel"
	"los/kernel/mm"
	"los/kernel/proc"
)

func memoryCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	as := proc.CurrentProcess().AddressSpace()

	switch code {
	case SysMapMemory:
		// Commit arg2 pages of zeroed memory at the page containing
		// arg1.
		if err := validateRange(arg1, arg2*mm.PageSize); err != nil {
			return 0, err
		}

		addr := mm.PageFromAddress(mm.VirtualAddress(arg1)).Address()
		for i := uintptr(0); i < arg2; i++ {
			as.EnsureMapped(addr + mm.VirtualAddress(i*mm.PageSize))
		}
		return int64(addr), nil

	case SysUnmapMemory:
		if err := validateRange(arg1, arg2*mm.PageSize); err != nil {
			return 0, err
		}

		addr := mm.PageFromAddress(mm.VirtualAddress(arg1)).Address()
		for i := uintptr(0); i < arg2; i++ {
			as.Unmap(addr + mm.VirtualAddress(i*mm.PageSize))
		}
		return 0, nil
	}

	return 0, errInvalidCode
}
