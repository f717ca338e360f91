// Package syscalls implements the system call gateway: the SYSCALL entry
// saves the user registers, switches to the current thread's kernel stack
// and dispatches by code range. Every user pointer is validated against the
// kernel boundary before it is touched.
package syscalls

import (
	"unicode/utf8"

	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/irq"
	"los/kernel/kfmt"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
)

var (
	errInvalidCode      = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusInvalidRequestCode, Message: "invalid system call"}
	errArgumentSecurity = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusArgumentSecurity, Message: "arguments reach into kernel space"}
	errInvalidUTF8      = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusInvalidUTF8, Message: "invalid UTF-8"}
	errBadDescriptor    = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusBadDescriptor, Message: "bad descriptor id"}
	errNoProvider       = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusNoDevice, Message: "no provider registered for this call range"}
	errNoSession        = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusInvalidSession, Message: "process has no session"}
)

// userReturnState is the register image the gateway rebuilds before
// returning to ring 3; signal delivery may rewrite it.
type userReturnState struct {
	regs irq.Regs
	info irq.ExceptionInfo
}

// currentUserState tracks the interrupted user RIP/RSP the runner reported.
var currentUserState = userReturnState{
	info: irq.ExceptionInfo{CS: irq.SelectorUserCode, RFlags: 0x202},
}

// SetUserContext records the user instruction and stack pointers of the
// currently executing program body; the signal trampoline builds its frame
// against them.
func SetUserContext(rip, rsp uintptr) {
	currentUserState.info.RIP = uint64(rip)
	currentUserState.info.RSP = uint64(rsp)
}

// Handle is the SYSCALL entry: rax carries the code, the next five argument
// registers the arguments; the return value travels back in rax. Negative
// returns pack -(module*256 + status).
func Handle(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) int64 {
	// The entry stub lands on the kernel stack the scheduler shadowed
	// for this thread.
	_ = cpu.CurrentKernelStack

	state := &currentUserState
	state.regs.RAX = uint64(code)
	state.regs.RDI = uint64(arg1)
	state.regs.RSI = uint64(arg2)
	state.regs.RDX = uint64(arg3)
	state.regs.R10 = uint64(arg4)
	state.regs.R8 = uint64(arg5)

	result, err := dispatch(code, arg1, arg2, arg3, arg4, arg5)
	if err != nil {
		result = err.Code()
	}

	// Pending signals are delivered on the way back to ring 3.
	state.regs.RAX = uint64(result)
	proc.DispatchPendingSignals(&state.regs, &state.info)

	return result
}

func dispatch(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	switch {
	case code <= 0x0FFF:
		return processCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x1FFF:
		return threadCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x2FFF:
		return filesystemCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x3FFF:
		return consoleCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x4FFF:
		return eventCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x5FFF:
		return timeCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x6FFF:
		return deviceCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x7FFF:
		return memoryCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x8FFF:
		return sessionCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0x9FFF:
		return signalCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0xAFFF:
		return pipeCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0xBFFF:
		return mutexCall(code, arg1, arg2, arg3, arg4, arg5)
	case code <= 0xCFFF:
		return condVarCall(code, arg1, arg2, arg3, arg4, arg5)
	}

	kfmt.Printf("[syscalls] invalid system call: %x\n", code)
	return 0, errInvalidCode
}

// validateRange checks that a user pointer and its full span lie strictly
// below the kernel boundary.
func validateRange(ptr, size uintptr) *kernel.Error {
	end := ptr + size
	if end < ptr {
		return errArgumentSecurity
	}
	if mm.VirtualAddress(ptr).IsKernel() || mm.VirtualAddress(end).IsKernel() {
		return errArgumentSecurity
	}
	return nil
}

// readUserBytes validates and copies a user buffer in.
func readUserBytes(ptr, size uintptr) ([]byte, *kernel.Error) {
	if err := validateRange(ptr, size); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if err := vmm.CopyFromUser(buf, mm.VirtualAddress(ptr)); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeUserBytes validates and copies a buffer out to user memory.
func writeUserBytes(ptr uintptr, data []byte) *kernel.Error {
	if err := validateRange(ptr, uintptr(len(data))); err != nil {
		return err
	}
	return vmm.CopyToUser(mm.VirtualAddress(ptr), data)
}

// writeUserU64 stores one 64-bit value in user memory.
func writeUserU64(ptr uintptr, value uint64) *kernel.Error {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(value >> (8 * i))
	}
	return writeUserBytes(ptr, buf[:])
}

// readUserString reads a NUL-terminated string bounded by the kernel
// boundary and validates it as UTF-8.
func readUserString(ptr uintptr) (string, *kernel.Error) {
	var bytes []byte
	for {
		if mm.VirtualAddress(ptr).IsKernel() {
			return "", errArgumentSecurity
		}

		b, err := vmm.LoadUser(mm.VirtualAddress(ptr), currentUserState.info.RIP)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		bytes = append(bytes, b)
		ptr++
	}

	if !utf8.Valid(bytes) {
		return "", errInvalidUTF8
	}
	return string(bytes), nil
}
