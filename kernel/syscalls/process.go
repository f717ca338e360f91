package syscalls

import (
	"los/kernel"
	"los/kernel/loader"
	"los/kernel/proc"
)

func processCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	switch code {
	case SysExitProcess:
		proc.ExitProcess(int64(arg1))
		return 0, nil

	case SysWaitProcess:
		status, err := proc.WaitProcess(int64(arg1))
		if err != nil {
			return 0, err
		}
		return status, nil

	case SysExecute:
		return executeCall(arg1, arg2, arg3)

	case SysGetPID:
		return proc.CurrentProcess().ID(), nil

	case SysKillProcess:
		target, ok := proc.ProcessByID(int64(arg1))
		if !ok {
			return 0, errNoProcessErr
		}
		if err := proc.RaiseSignal(target.ID(), proc.SignalKill); err != nil {
			return 0, err
		}
		return 0, nil

	case SysGetWorkingDirectory:
		wd := proc.CurrentProcess().Descriptors.WorkingDirectory
		if uintptr(len(wd))+1 > arg2 {
			return 0, errOutOfRangeErr
		}
		if err := writeUserBytes(arg1, append([]byte(wd), 0)); err != nil {
			return 0, err
		}
		return int64(len(wd)), nil

	case SysSetWorkingDirectory:
		path, err := readUserString(arg1)
		if err != nil {
			return 0, err
		}
		proc.CurrentProcess().Descriptors.WorkingDirectory = path
		return 0, nil

	case SysGetProcessTime:
		return proc.CurrentProcess().ProcessTime(), nil
	}

	return 0, errInvalidCode
}

// executeCall reads the path plus the NULL-terminated argv and envp pointer
// arrays out of user memory and launches the executable.
func executeCall(pathPtr, argvPtr, envpPtr uintptr) (int64, *kernel.Error) {
	path, err := readUserString(pathPtr)
	if err != nil {
		return 0, err
	}

	args, err := readUserStringArray(argvPtr)
	if err != nil {
		return 0, err
	}
	environment, err := readUserStringArray(envpPtr)
	if err != nil {
		return 0, err
	}

	stdio := loader.StandardIO{
		In:  loader.StandardIOTarget{Type: loader.StandardIOConsole},
		Out: loader.StandardIOTarget{Type: loader.StandardIOConsole},
		Err: loader.StandardIOTarget{Type: loader.StandardIOConsole},
	}

	p, err := loader.Execute(path, args, environment, stdio, proc.CurrentProcess().Session(), false)
	if err != nil {
		return 0, err
	}
	return p.ID(), nil
}

// readUserStringArray walks a NULL-terminated array of string pointers.
func readUserStringArray(ptr uintptr) ([]string, *kernel.Error) {
	if ptr == 0 {
		return nil, nil
	}

	var out []string
	for {
		entry, err := readUserBytes(ptr, 8)
		if err != nil {
			return nil, err
		}

		var strPtr uintptr
		for i := 7; i >= 0; i-- {
			strPtr = strPtr<<8 | uintptr(entry[i])
		}
		if strPtr == 0 {
			return out, nil
		}

		str, err := readUserString(strPtr)
		if err != nil {
			return nil, err
		}
		out = append(out, str)
		ptr += 8
	}
}

var (
	errNoProcessErr  = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusNoProcess, Message: "no such process"}
	errOutOfRangeErr = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusOutOfRange, Message: "buffer too small"}
)
