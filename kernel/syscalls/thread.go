package syscalls

import (
	"los/kernel"
	"los/kernel/loader"
	"los/kernel/proc"
)

func threadCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	switch code {
	case SysExitThread:
		proc.ExitThread(int64(arg1))
		return 0, nil

	case SysCreateThread:
		if err := validateRange(arg1, 0); err != nil {
			return 0, err
		}
		stackTop := arg3
		if stackTop == 0 {
			stackTop = loader.UserStackTop
		}
		t := proc.CreateUserThread(arg1, arg2, stackTop)
		return t.ID(), nil

	case SysWaitThread:
		target, ok := proc.CurrentProcess().Thread(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		status, ok := proc.WaitThread(target)
		if !ok {
			return 0, errBadDescriptor
		}
		return status, nil

	case SysGetTID:
		return proc.CurrentThread().ID(), nil

	case SysKillThread:
		target, ok := proc.CurrentProcess().Thread(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		proc.KillThread(target, int64(arg2))
		return 0, nil

	case SysSetTLSBase:
		if err := validateRange(arg1, 0); err != nil {
			return 0, err
		}
		proc.CurrentThread().SetTLSBase(arg1)
		return 0, nil
	}

	return 0, errInvalidCode
}
