package syscalls

import (
	"los/kernel"
	"los/kernel/ipc"
	"los/kernel/proc"
)

func pipeCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	descriptors := &proc.CurrentProcess().Descriptors

	switch code {
	case SysCreatePipe:
		reader, writer := ipc.NewPipe()
		readID := descriptors.PipeReaders.Insert(reader)
		writeID := descriptors.PipeWriters.Insert(writer)

		if err := writeUserU64(arg1, uint64(readID)); err != nil {
			return 0, err
		}
		if err := writeUserU64(arg2, uint64(writeID)); err != nil {
			return 0, err
		}
		return 0, nil

	case SysReadPipe:
		handle, ok := descriptors.PipeReaders.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		if err := validateRange(arg2, arg3); err != nil {
			return 0, err
		}

		buf := make([]byte, arg3)
		n, err := handle.(*ipc.PipeReader).Read(buf)
		if err != nil {
			return 0, err
		}
		if err := writeUserBytes(arg2, buf[:n]); err != nil {
			return 0, err
		}
		return int64(n), nil

	case SysWritePipe:
		handle, ok := descriptors.PipeWriters.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		data, err := readUserBytes(arg2, arg3)
		if err != nil {
			return 0, err
		}
		if err := handle.(*ipc.PipeWriter).Write(data); err != nil {
			return 0, err
		}
		return int64(len(data)), nil

	case SysClosePipeReader:
		handle, ok := descriptors.PipeReaders.Remove(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.PipeReader).Close()
		return 0, nil

	case SysClosePipeWriter:
		handle, ok := descriptors.PipeWriters.Remove(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.PipeWriter).Close()
		return 0, nil
	}

	return 0, errInvalidCode
}

func mutexCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	descriptors := &proc.CurrentProcess().Descriptors

	switch code {
	case SysCreateMutex:
		return descriptors.Mutexes.Insert(ipc.NewMutex()), nil

	case SysLockMutex:
		handle, ok := descriptors.Mutexes.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.Mutex).Lock()
		return 0, nil

	case SysTryLockMutex:
		handle, ok := descriptors.Mutexes.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		if handle.(*ipc.Mutex).TryLock() {
			return 1, nil
		}
		return 0, nil

	case SysUnlockMutex:
		handle, ok := descriptors.Mutexes.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.Mutex).Unlock()
		return 0, nil

	case SysDestroyMutex:
		if _, ok := descriptors.Mutexes.Remove(int64(arg1)); !ok {
			return 0, errBadDescriptor
		}
		return 0, nil
	}

	return 0, errInvalidCode
}

func condVarCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	descriptors := &proc.CurrentProcess().Descriptors

	switch code {
	case SysCreateCondVar:
		return descriptors.CondVars.Insert(ipc.NewConditionalVariable()), nil

	case SysWaitCondVar:
		handle, ok := descriptors.CondVars.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.ConditionalVariable).Wait()
		if interrupted() {
			return 0, errInterrupted
		}
		return 0, nil

	case SysSignalCondVar:
		handle, ok := descriptors.CondVars.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		handle.(*ipc.ConditionalVariable).Signal()
		return 0, nil

	case SysBroadcastCondVar:
		handle, ok := descriptors.CondVars.Get(int64(arg1))
		if !ok {
			return 0, errBadDescriptor
		}
		return int64(handle.(*ipc.ConditionalVariable).Broadcast()), nil

	case SysDestroyCondVar:
		if _, ok := descriptors.CondVars.Remove(int64(arg1)); !ok {
			return 0, errBadDescriptor
		}
		return 0, nil
	}

	return 0, errInvalidCode
}
