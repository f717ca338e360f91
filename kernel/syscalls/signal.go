package syscalls

import (
	"los/kernel"
	"los/kernel/mm"
	"los/kernel/proc"
)

func signalCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	signals := &proc.CurrentProcess().Signals

	switch code {
	case SysRaiseSignal:
		pid := int64(arg1)
		if pid < 0 {
			signals.Raise(uint8(arg2))
			return 0, nil
		}
		if err := proc.RaiseSignal(pid, uint8(arg2)); err != nil {
			return 0, err
		}
		return 0, nil

	case SysSetSignalHandler:
		switch proc.SignalHandlerKind(arg2) {
		case proc.SignalTerminate, proc.SignalIgnore:
			signals.SetHandler(uint8(arg1), proc.SignalHandlerKind(arg2))
		case proc.SignalUserspace:
			if err := validateRange(arg3, 0); err != nil {
				return 0, err
			}
			signals.SetHandler(uint8(arg1), proc.SignalUserspace)
			signals.SetUserspaceHandler(arg3)
		default:
			return 0, errInvalidArgErr
		}
		return 0, nil

	case SysSetSignalMask:
		signals.Mask(uint8(arg1), arg2 != 0)
		return 0, nil

	case SysSignalReturn:
		if err := validateRange(arg1, 0); err != nil {
			return 0, err
		}
		state := &currentUserState
		proc.RestoreSignalFrame(mm.VirtualAddress(arg1), &state.regs, &state.info)
		return int64(state.regs.RAX), nil
	}

	return 0, errInvalidCode
}

var errInvalidArgErr = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusInvalidArgument, Message: "invalid argument"}
