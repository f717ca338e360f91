package proc

import (
	"encoding/binary"

	"los/kernel/irq"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
)

// SignalHandlerKind selects what delivery does for a signal slot.
type SignalHandlerKind uint8

const (
	// SignalTerminate exits the process with 128 plus the signal number.
	SignalTerminate SignalHandlerKind = iota

	// SignalIgnore discards the event.
	SignalIgnore

	// SignalUserspace transfers control to the registered userspace
	// handler through a trampoline frame.
	SignalUserspace
)

// Well-known signal numbers.
const (
	SignalKill      = uint8(0)
	SignalTerm      = uint8(1)
	SignalAbort     = uint8(2)
	SignalInterrupt = uint8(3)
	SignalAlarm     = uint8(4)
)

// signal is one slot of the per-process table.
type signal struct {
	handler SignalHandlerKind
	masked  bool
	pending bool
}

// Signals is the per-process signal table: 256 slots plus one registered
// userspace handler address.
type Signals struct {
	slots            [256]signal
	userspaceHandler uintptr
}

// NewSignals returns the boot-time table: the kill group terminates, the
// alarm is ignored, the exception band 32..95 terminates, and everything
// else is ignored until configured.
func NewSignals() Signals {
	var s Signals
	for i := range s.slots {
		s.slots[i].handler = SignalIgnore
	}
	s.slots[SignalKill].handler = SignalTerminate
	s.slots[SignalTerm].handler = SignalTerminate
	s.slots[SignalAbort].handler = SignalTerminate
	s.slots[SignalInterrupt].handler = SignalTerminate
	s.slots[SignalAlarm].handler = SignalIgnore

	// The exception band: faults forwarded from the CPU terminate unless
	// the process installs its own handler.
	for i := 32; i < 96; i++ {
		s.slots[i].handler = SignalTerminate
	}
	return s
}

// Inherit clones the handler kinds and masks; pending events do not cross a
// process boundary.
func (s *Signals) Inherit() Signals {
	clone := *s
	for i := range clone.slots {
		clone.slots[i].pending = false
	}
	return clone
}

// Raise marks a signal pending. Raising a masked signal drops the event.
func (s *Signals) Raise(sig uint8) {
	if !s.slots[sig].masked {
		s.slots[sig].pending = true
	}
}

// SetHandler installs a handler kind. The kill slot always terminates.
func (s *Signals) SetHandler(sig uint8, handler SignalHandlerKind) {
	if sig == SignalKill {
		return
	}
	s.slots[sig].handler = handler
}

// SetUserspaceHandler records the address delivery transfers control to.
func (s *Signals) SetUserspaceHandler(handler uintptr) {
	s.userspaceHandler = handler
}

// Mask sets or clears a signal's mask. The kill signal is unmaskable.
// Masking a pending signal leaves it pending but undelivered.
func (s *Signals) Mask(sig uint8, masked bool) {
	if sig == SignalKill {
		return
	}
	s.slots[sig].masked = masked
}

// Pending reports whether the slot has an undelivered event.
func (s *Signals) Pending(sig uint8) bool {
	return s.slots[sig].pending
}

// signalFrameSize is the trampoline frame: fifteen general purpose
// registers plus rflags and rip.
const signalFrameSize = 17 * 8

// userSignalDispatchFn lets the user runtime observe a userspace delivery
// after the trampoline frame is built. Registered by the gateway.
var userSignalDispatchFn func(handler uintptr, sig uint8, frame mm.VirtualAddress)

// SetUserSignalDispatcher registers the userspace delivery hook.
func SetUserSignalDispatcher(fn func(handler uintptr, sig uint8, frame mm.VirtualAddress)) {
	userSignalDispatchFn = fn
}

// DispatchPendingSignals runs at every kernel to user return. Pending,
// unmasked slots deliver in ascending order; a Terminate slot ends the
// process with 128 plus the signal number, a Userspace slot builds the
// trampoline frame on the user stack and rewrites the return path to the
// registered handler with the signal number in the first argument register
// and the stack pointing at the frame.
func DispatchPendingSignals(regs *irq.Regs, info *irq.ExceptionInfo) {
	t := CurrentThreadOption()
	if t == nil {
		return
	}

	signals := &t.process.Signals
	for i := 0; i < 256; i++ {
		slot := &signals.slots[i]
		if !slot.pending || slot.masked {
			continue
		}

		switch slot.handler {
		case SignalIgnore:
			slot.pending = false

		case SignalTerminate:
			slot.pending = false
			ExitProcess(128 + int64(i))

		case SignalUserspace:
			slot.pending = false

			frame := buildSignalFrame(regs, info)

			// Resume at the handler with rdi = signal number and
			// rsp at the trampoline frame. The handler must call
			// sigreturn to restore the saved frame.
			info.RIP = uint64(signals.userspaceHandler)
			info.RSP = uint64(frame)
			regs.RDI = uint64(i)

			if userSignalDispatchFn != nil {
				userSignalDispatchFn(signals.userspaceHandler, uint8(i), frame)
			}
			return
		}
	}
}

// buildSignalFrame pushes the interrupted register state onto the user
// stack and returns the frame's address.
func buildSignalFrame(regs *irq.Regs, info *irq.ExceptionInfo) mm.VirtualAddress {
	frame := mm.VirtualAddress(info.RSP) - signalFrameSize

	var buf [signalFrameSize]byte
	order := []uint64{
		regs.R15, regs.R14, regs.R13, regs.R12, regs.R11, regs.R10,
		regs.R9, regs.R8, regs.RBP, regs.RDI, regs.RSI, regs.RDX,
		regs.RCX, regs.RBX, regs.RAX, info.RFlags, info.RIP,
	}
	for i, v := range order {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}

	vmm.CopyToUser(frame, buf[:])
	return frame
}

// RestoreSignalFrame implements the sigreturn path: it reads the trampoline
// frame back from the user stack into the return state.
func RestoreSignalFrame(frame mm.VirtualAddress, regs *irq.Regs, info *irq.ExceptionInfo) {
	var buf [signalFrameSize]byte
	if err := vmm.CopyFromUser(buf[:], frame); err != nil {
		return
	}

	values := make([]uint64, 17)
	for i := range values {
		values[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}

	regs.R15, regs.R14, regs.R13, regs.R12, regs.R11, regs.R10 = values[0], values[1], values[2], values[3], values[4], values[5]
	regs.R9, regs.R8, regs.RBP, regs.RDI, regs.RSI, regs.RDX = values[6], values[7], values[8], values[9], values[10], values[11]
	regs.RCX, regs.RBX, regs.RAX = values[12], values[13], values[14]
	info.RFlags = values[15]
	info.RIP = values[16]
	info.RSP = uint64(frame + signalFrameSize)
}
