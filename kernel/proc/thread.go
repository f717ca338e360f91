package proc

import (
	"reflect"
	"unsafe"

	"los/kernel/cpu"
	"los/kernel/irq"
)

// ThreadFunc is a kernel thread entry point.
type ThreadFunc func(context uintptr) int64

const (
	// KernelStackSize is the fixed kernel stack region of every thread.
	KernelStackSize = 32 * 1024

	// defaultExitStatus is reported when a thread dies without ever
	// setting a status.
	defaultExitStatus = int64(128)

	// userRFlags is the RFLAGS image user threads start with (IF set).
	userRFlags = uint64(0x202)
)

// Stack is a thread's kernel stack region. The backing array never moves,
// so the saved stack pointer is a stable address into it.
type Stack struct {
	data    []uint64
	top     uintptr
	pointer uintptr
}

// NewStack builds a zeroed kernel stack with the pointer at the top.
func NewStack() *Stack {
	s := &Stack{data: make([]uint64, KernelStackSize/8)}
	s.top = uintptr(unsafe.Pointer(&s.data[0])) + KernelStackSize
	s.pointer = s.top
	return s
}

// Push writes one value below the current stack pointer.
func (s *Stack) Push(value uint64) {
	s.pointer -= 8
	*(*uint64)(unsafe.Pointer(s.pointer)) = value
}

// Pop removes and returns the value at the stack pointer.
func (s *Stack) Pop() uint64 {
	value := *(*uint64)(unsafe.Pointer(s.pointer))
	s.pointer += 8
	return value
}

// Top returns the stack top address loaded into TSS.rsp0.
func (s *Stack) Top() uintptr {
	return s.top
}

// PointerLocation returns the save slot for the stack pointer.
func (s *Stack) PointerLocation() *uintptr {
	return &s.pointer
}

// Slots returns the saved values between the stack pointer and the top,
// lowest address first.
func (s *Stack) Slots() []uint64 {
	base := uintptr(unsafe.Pointer(&s.data[0]))
	first := (s.pointer - base) / 8
	return s.data[first:]
}

// Thread is one kernel-schedulable context: a kernel stack, the saved
// register frame on it, a floating point save area, the TLS base and the
// bookkeeping that ties it to its process and at most one wait queue.
type Thread struct {
	id      int64
	process *Process

	kernelStack *Stack
	float       []byte

	tlsBase uintptr

	// queue is the wait queue this thread currently sits in, if any.
	queue CurrentQueue

	// queueData carries a value handed back by whoever woke the thread,
	// e.g. the exit status of a waited-for sibling.
	queueData int64

	exitQueue  ThreadQueue
	exitStatus int64

	// dead marks a killed thread so queues skip it; destroyed marks a
	// fully torn down one.
	dead      bool
	destroyed bool

	// dropping tells the parked context to terminate instead of resuming.
	dropping bool

	entry     ThreadFunc
	context   uintptr
	userEntry uintptr
	userStack uintptr

	resume chan struct{}
}

// newFloatStorage returns a 512-byte 16-aligned FXSAVE area.
func newFloatStorage() []byte {
	raw := make([]byte, cpu.FloatStorageSize+16)
	off := uintptr(unsafe.Pointer(&raw[0])) & 15
	if off != 0 {
		off = 16 - off
	}
	return raw[off : off+cpu.FloatStorageSize : off+cpu.FloatStorageSize]
}

// funcAddr returns the code address of a function value; it is the value
// pushed as the saved entry register.
func funcAddr(fn interface{}) uint64 {
	return uint64(reflect.ValueOf(fn).Pointer())
}

// newThread builds a suspended thread whose kernel stack ends with the
// sixteen saved slots the stack switch expects: r15..r8, rbp, rdi, rsi,
// rdx, rcx, rbx, rax and the trampoline return address on top.
func newThread(process *Process, entry ThreadFunc, context uintptr) *Thread {
	t := &Thread{
		id:          InvalidID,
		process:     process,
		kernelStack: NewStack(),
		float:       newFloatStorage(),
		exitStatus:  defaultExitStatus,
		entry:       entry,
		context:     context,
		resume:      make(chan struct{}, 1),
	}

	t.prepareKernelEntryStack(funcAddr(entry), uint64(context))
	t.run()
	return t
}

// newUserThread builds a suspended thread that crosses to ring 3 on first
// dispatch: below the saved slots sits a pre-built IRETQ frame.
func newUserThread(process *Process, entry, context, stackTop uintptr) *Thread {
	t := &Thread{
		id:          InvalidID,
		process:     process,
		kernelStack: NewStack(),
		float:       newFloatStorage(),
		exitStatus:  defaultExitStatus,
		context:     context,
		userEntry:   entry,
		userStack:   stackTop,
		resume:      make(chan struct{}, 1),
	}

	t.prepareUserEntryStack(uint64(entry), uint64(context), uint64(stackTop))
	t.run()
	return t
}

func (t *Thread) prepareKernelEntryStack(entry, context uint64) {
	s := t.kernelStack
	s.Push(funcAddr(threadEnterKernel)) // return address
	s.Push(0)                           // rax
	s.Push(0)                           // rbx
	s.Push(0)                           // rcx
	s.Push(0)                           // rdx
	s.Push(context)                     // rsi
	s.Push(entry)                       // rdi
	s.Push(0)                           // rbp
	s.Push(0)                           // r8
	s.Push(0)                           // r9
	s.Push(0)                           // r10
	s.Push(0)                           // r11
	s.Push(0)                           // r12
	s.Push(0)                           // r13
	s.Push(0)                           // r14
	s.Push(0)                           // r15
}

func (t *Thread) prepareUserEntryStack(entry, context, stackTop uint64) {
	s := t.kernelStack

	// The IRETQ frame consumed after the register pops.
	s.Push(irq.SelectorUserData) // SS
	s.Push(stackTop)             // RSP
	s.Push(userRFlags)           // RFLAGS
	s.Push(irq.SelectorUserCode) // CS
	s.Push(entry)                // RIP

	s.Push(funcAddr(threadEnterUser)) // return address
	s.Push(0)                         // rax
	s.Push(0)                         // rbx
	s.Push(0)                         // rcx
	s.Push(0)                         // rdx
	s.Push(0)                         // rsi
	s.Push(context)                   // rdi
	s.Push(0)                         // rbp
	s.Push(0)                         // r8
	s.Push(0)                         // r9
	s.Push(0)                         // r10
	s.Push(0)                         // r11
	s.Push(0)                         // r12
	s.Push(0)                         // r13
	s.Push(0)                         // r14
	s.Push(0)                         // r15
}

// run parks the thread's execution context until its first dispatch.
func (t *Thread) run() {
	go func() {
		<-t.resume
		if t.dropping {
			return
		}

		// The stack switch consumed the prepared register frame.
		t.kernelStack.popSwitchFrame()

		postYield()

		if t.userEntry != 0 {
			threadEnterUser(t)
			return
		}
		threadEnterKernel(t)
	}()
}

// threadEnterKernel is the kernel trampoline: it pops the saved registers,
// calls entry(context) and exits with its return value.
func threadEnterKernel(t *Thread) {
	status := t.entry(t.context)
	ExitThread(status)
}

// threadEnterUser is the user trampoline: the register pops leave the IRETQ
// frame on top, and the return crosses to ring 3.
func threadEnterUser(t *Thread) {
	// Consume the IRETQ frame left on top after the register pops.
	for i := 0; i < 5; i++ {
		t.kernelStack.Pop()
	}

	if cpu.EnterUser == nil {
		ExitThread(defaultExitStatus)
		return
	}

	cpu.EnterUser(t.userEntry, t.context, t.userStack)
	ExitThread(0)
}

// ID returns the thread id within its process.
func (t *Thread) ID() int64 { return t.id }

// Process returns the owning process.
func (t *Thread) Process() *Process { return t.process }

// ExitStatus returns the recorded exit status.
func (t *Thread) ExitStatus() int64 { return t.exitStatus }

// QueueData returns the value handed back through the queue data slot.
func (t *Thread) QueueData() int64 { return t.queueData }

// SetQueueData stores a value into the queue data slot.
func (t *Thread) SetQueueData(data int64) { t.queueData = data }

// SetTLSBase records the FS base loaded whenever this thread is dispatched.
func (t *Thread) SetTLSBase(base uintptr) { t.tlsBase = base }

// TLSBase returns the thread's FS base.
func (t *Thread) TLSBase() uintptr { return t.tlsBase }

// KernelStack exposes the stack region.
func (t *Thread) KernelStack() *Stack { return t.kernelStack }

// saveFloat stores the floating point state into the thread's save area.
func (t *Thread) saveFloat() { cpu.FloatSave(t.float) }

// loadFloat restores the floating point state from the save area.
func (t *Thread) loadFloat() { cpu.FloatLoad(t.float) }

// clearQueue removes the thread from whatever queue it currently sits in.
// The thread must never be destroyed while still queued.
func (t *Thread) clearQueue() {
	if t.queue != nil {
		t.queue.Remove(t)
		t.queue = nil
	}
}
