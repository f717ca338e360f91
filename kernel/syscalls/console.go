package syscalls

import (
	"los/kernel"
	"los/kernel/proc"
)

func consoleCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	session := proc.CurrentProcess().Session()
	if session == nil {
		return 0, errNoSession
	}

	switch code {
	case SysConsoleWrite:
		data, err := readUserBytes(arg1, arg2)
		if err != nil {
			return 0, err
		}
		return int64(session.ConsoleWrite(data)), nil
	}

	return 0, errInvalidCode
}

// EventProvider is the input event surface of the session layer.
type EventProvider interface {
	// Peek returns the next event without blocking; ok is false when no
	// event is queued.
	Peek() (event uint64, ok bool)

	// WaitQueue returns the queue a polling thread suspends on.
	WaitQueue() *proc.ThreadQueue
}

var eventProvider EventProvider

// SetEventProvider registers the session event source.
func SetEventProvider(p EventProvider) {
	eventProvider = p
}

func eventCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	if eventProvider == nil {
		return 0, errNoProvider
	}

	switch code {
	case SysPeekEvent:
		event, ok := eventProvider.Peek()
		if !ok {
			return 0, nil
		}
		if err := writeUserU64(arg1, event); err != nil {
			return 0, err
		}
		return 1, nil

	case SysPollEvent:
		for {
			event, ok := eventProvider.Peek()
			if ok {
				if err := writeUserU64(arg1, event); err != nil {
					return 0, err
				}
				return 1, nil
			}

			// Suspend until the session queues an event; a signal
			// interrupts the wait.
			proc.Yield(eventProvider.WaitQueue())
			if interrupted() {
				return 0, errInterrupted
			}
		}
	}

	return 0, errInvalidCode
}

// interrupted reports whether any signal slot of the current process is
// pending. The mask is not consulted, and a signal that was already pending
// before the thread suspended counts as well.
func interrupted() bool {
	signals := &proc.CurrentProcess().Signals
	for i := 0; i < 256; i++ {
		if signals.Pending(uint8(i)) {
			return true
		}
	}
	return false
}

var errInterrupted = &kernel.Error{Module: "syscalls", ModuleNum: kernel.ModuleNumSystemCalls, Status: kernel.StatusInterrupted, Message: "wait interrupted by a signal"}

func sessionCall(code uintptr, arg1, arg2, arg3, arg4, arg5 uintptr) (int64, *kernel.Error) {
	session := proc.CurrentProcess().Session()
	if session == nil {
		return 0, errNoSession
	}

	switch code {
	case SysGetSessionID:
		return session.ID(), nil

	case SysGetSessionProcesses:
		// Fill the user buffer with the ids of processes sharing this
		// session; the return value is the total count.
		var pids []int64
		proc.VisitProcesses(func(p *proc.Process) bool {
			if p.Session() == session {
				pids = append(pids, p.ID())
			}
			return true
		})

		max := int(arg2)
		for i, pid := range pids {
			if i >= max {
				break
			}
			if err := writeUserU64(arg1+uintptr(i)*8, uint64(pid)); err != nil {
				return 0, err
			}
		}
		return int64(len(pids)), nil
	}

	return 0, errInvalidCode
}
