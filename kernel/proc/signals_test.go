package proc_test

import (
	"testing"

	"los/kernel/irq"
	"los/kernel/kerneltest"
	"los/kernel/mm"
	"los/kernel/proc"
)

func TestSignalMaskSemantics(t *testing.T) {
	s := proc.NewSignals()

	// Raising a masked signal drops the event entirely.
	s.Mask(proc.SignalTerm, true)
	s.Raise(proc.SignalTerm)
	if s.Pending(proc.SignalTerm) {
		t.Fatal("raising a masked signal must drop it, not queue it")
	}

	// A signal that was pending before masking stays pending.
	s.Mask(proc.SignalTerm, false)
	s.Raise(proc.SignalTerm)
	s.Mask(proc.SignalTerm, true)
	if !s.Pending(proc.SignalTerm) {
		t.Fatal("masking must not clear an already pending signal")
	}

	// Kill is unmaskable and its handler sticks to Terminate.
	s.Mask(proc.SignalKill, true)
	s.SetHandler(proc.SignalKill, proc.SignalIgnore)
	s.Raise(proc.SignalKill)
	if !s.Pending(proc.SignalKill) {
		t.Fatal("the kill signal must be unmaskable")
	}
}

func TestSignalInheritClearsPending(t *testing.T) {
	s := proc.NewSignals()
	s.Raise(proc.SignalAbort)
	s.Mask(proc.SignalInterrupt, true)

	clone := s.Inherit()
	if clone.Pending(proc.SignalAbort) {
		t.Fatal("pending events must not cross a process boundary")
	}
}

func TestSignalTerminateOnReturnToUser(t *testing.T) {
	kerneltest.Boot(t, "")

	var waited int64 = -1
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		child, cerr := proc.CreateProcess("victim", func(uintptr) int64 {
			// The process raises Kill on itself; the next return
			// to user delivers it.
			proc.CurrentProcess().Signals.Raise(proc.SignalKill)

			regs := &irq.Regs{}
			info := &irq.ExceptionInfo{}
			proc.DispatchPendingSignals(regs, info)

			t.Error("execution must not continue past a Terminate delivery")
			return 0
		}, 0, proc.NewDescriptors(), proc.NewSignals(), nil)
		if cerr != nil {
			t.Errorf("create failed: %s", cerr.Message)
			return 1
		}

		status, err := proc.WaitProcess(child.ID())
		if err != nil {
			t.Errorf("wait failed: %s", err.Message)
			return 1
		}
		waited = status
		return 0
	})

	proc.Run()

	if waited != 128 {
		t.Fatalf("expected exit status 128 for the kill signal; got %d", waited)
	}
}

func TestSignalDeliveryOrderAndTrampoline(t *testing.T) {
	kerneltest.Boot(t, "")

	const handlerAddr = uintptr(0x40_1000)
	userStack := uint64(0x7FFF_F000)

	var delivered []uint8
	var frameAddr mm.VirtualAddress
	proc.SetUserSignalDispatcher(func(handler uintptr, sig uint8, frame mm.VirtualAddress) {
		if handler != handlerAddr {
			t.Errorf("wrong handler address %x", handler)
		}
		delivered = append(delivered, sig)
		frameAddr = frame
	})
	t.Cleanup(func() { proc.SetUserSignalDispatcher(nil) })

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		signals := &proc.CurrentProcess().Signals
		signals.SetHandler(40, proc.SignalUserspace)
		signals.SetHandler(7, proc.SignalUserspace)
		signals.SetUserspaceHandler(handlerAddr)

		signals.Raise(40)
		signals.Raise(7)

		regs := &irq.Regs{RAX: 0x1111, RBX: 0x2222, RDI: 0x3333}
		info := &irq.ExceptionInfo{RIP: 0x40_0500, RSP: userStack, RFlags: 0x202}

		// First return to user: the lowest numbered signal wins.
		proc.DispatchPendingSignals(regs, info)
		if info.RIP != uint64(handlerAddr) {
			t.Errorf("return path not rewritten: rip=%x", info.RIP)
		}
		if regs.RDI != 7 {
			t.Errorf("signal number not in first argument register: %d", regs.RDI)
		}
		if info.RSP != uint64(frameAddr) {
			t.Errorf("stack does not point at the trampoline frame")
		}

		// The handler returns through sigreturn: the saved frame
		// restores the interrupted state.
		proc.RestoreSignalFrame(frameAddr, regs, info)
		if info.RIP != 0x40_0500 || regs.RAX != 0x1111 || regs.RDI != 0x3333 {
			t.Errorf("sigreturn did not restore the frame: rip=%x rax=%x rdi=%x", info.RIP, regs.RAX, regs.RDI)
		}

		// Second return to user: the higher signal follows.
		proc.DispatchPendingSignals(regs, info)
		return 0
	})

	proc.Run()

	if len(delivered) != 2 || delivered[0] != 7 || delivered[1] != 40 {
		t.Fatalf("expected delivery order [7 40]; got %v", delivered)
	}
}
