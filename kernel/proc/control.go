package proc

import (
	"runtime"

	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/irq"
	"los/kernel/mm/vmm"
	"los/kernel/sync"
)

var (
	errYieldDepth    = &kernel.Error{Module: "proc", ModuleNum: kernel.ModuleNumProcess, Status: kernel.StatusInvalidArgument, Message: "yield entered with unexpected critical depth"}
	errExitReturned  = &kernel.Error{Module: "proc", ModuleNum: kernel.ModuleNumProcess, Status: kernel.StatusInvalidArgument, Message: "returned to thread after exit"}
	errNoCurrent     = &kernel.Error{Module: "proc", ModuleNum: kernel.ModuleNumProcess, Status: kernel.StatusNoProcess, Message: "no current thread"}
	errProcReinit    = &kernel.Error{Module: "proc", ModuleNum: kernel.ModuleNumProcess, Status: kernel.StatusExists, Message: "process subsystem initialized twice"}
	errNoSuchProcess = &kernel.Error{Module: "proc", ModuleNum: kernel.ModuleNumProcess, Status: kernel.StatusNoProcess, Message: "no such process"}
)

// threadControl is the scheduler state: the run queue, the current thread
// and the staged slot consumed by the post-switch hook.
type threadControl struct {
	running     ThreadQueue
	current     *Thread
	staged      *Thread
	stagedQueue CurrentQueue

	liveThreads int

	processes Map[*Process]
}

var (
	controlLock sync.CriticalLock
	control     = threadControl{processes: NewMap[*Process]()}

	// bootSaveLocation receives the stack pointer of the boot context,
	// which is abandoned once the scheduler takes over.
	bootSaveLocation uintptr

	// idleResume transfers the CPU back to the boot context when the last
	// thread dies.
	idleResume = make(chan struct{}, 1)

	procInitialized bool
)

// Init wires the process hooks into the fault path.
func Init() *kernel.Error {
	if procInitialized {
		return errProcReinit
	}
	procInitialized = true

	vmm.SetProcessHooks(
		func() bool { return control.current != nil },
		func(status int64) { ExitProcess(status) },
	)
	return nil
}

// Reset tears the scheduler state down. Used by tests that boot multiple
// synthetic machines in one run; contexts parked on dead threads are woken
// so they can unwind.
func Reset() {
	controlLock.Acquire()
	control.processes.Visit(func(_ int64, p *Process) bool {
		p.threads.Visit(func(_ int64, t *Thread) bool {
			t.dropping = true
			select {
			case t.resume <- struct{}{}:
			default:
			}
			return true
		})
		return true
	})
	control = threadControl{processes: NewMap[*Process]()}
	procInitialized = false

	select {
	case <-idleResume:
	default:
	}
	controlLock.Release()
}

// CurrentThread returns the running thread and panics when there is none.
func CurrentThread() *Thread {
	t := control.current
	if t == nil {
		kernel.Panic(errNoCurrent)
	}
	return t
}

// CurrentThreadOption returns the running thread, or nil before the
// scheduler takes over.
func CurrentThreadOption() *Thread {
	return control.current
}

// CurrentProcess returns the running thread's process.
func CurrentProcess() *Process {
	return CurrentThread().process
}

// QueueThread makes a suspended thread runnable.
func QueueThread(t *Thread) {
	controlLock.Acquire()
	control.running.Push(t)
	controlLock.Release()
}

// runQueueHandle requeues a preempted thread onto the running FIFO.
type runQueueHandle struct{}

func (runQueueHandle) Add(t *Thread)         { control.running.Push(t) }
func (runQueueHandle) Remove(t *Thread) bool { return control.running.Remove(t) }

// QueueAndYield puts the current thread at the back of the run queue and
// dispatches the next one.
func QueueAndYield() {
	Yield(runQueueHandle{})
}

// Preempt runs on the preemption tick: it yields only when another thread
// is queued and a current thread exists.
func Preempt() {
	controlLock.Acquire()
	ok := control.running.Len() > 0 && control.current != nil
	controlLock.Release()

	if !ok {
		return
	}

	QueueAndYield()
}

// Yield suspends the current thread and dispatches the next runnable one.
// When requeueQueue is non-nil the current thread is placed on it before
// idling; with a nil queue and no wait membership, the current thread is
// dropped after the switch.
func Yield(requeueQueue CurrentQueue) {
	sync.EnterLocal()
	if sync.LocalDepth() != 1 {
		kernel.Panic(errYieldDepth)
	}
	controlLock.Acquire()

	cur := control.current

	var next *Thread
	for {
		next = control.running.Pop()
		if next != nil {
			break
		}

		if requeueQueue != nil && cur != nil {
			requeueQueue.Add(cur)
			requeueQueue = nil
		}

		// Nothing runnable. A dying thread with no queue membership
		// tears itself down right away: draining its exit queue may be
		// exactly what makes a waiter runnable again.
		if cur != nil && cur.queue == nil {
			destroyThreadLocked(cur)
			control.current = nil
			cur.dropping = true

			next = control.running.Pop()
			if next == nil {
				// Truly nothing left to run: hand the CPU back
				// to the boot context at handoff depth.
				controlLock.Release()
				idleResume <- struct{}{}
				runtime.Goexit()
			}

			dispatchThread(next)
			control.staged, control.stagedQueue = nil, nil
			control.current = next
			controlLock.Release()

			next.resume <- struct{}{}
			runtime.Goexit()
		}

		// The boot context returns once no thread can ever run again;
		// everyone else halts inside a brief STI window until an
		// interrupt queues work.
		if cur == nil && control.liveThreads == 0 {
			controlLock.Release()
			sync.LeaveLocal()
			return
		}

		controlLock.Release()
		sync.LeaveLocal()
		cpu.Halt()
		sync.EnterLocal()
		controlLock.Acquire()
	}

	// Save the old thread's floating point state and note its save slot.
	var saveLocation *uintptr
	if cur != nil {
		cur.saveFloat()
		saveLocation = cur.kernelStack.PointerLocation()
	} else {
		saveLocation = &bootSaveLocation
	}

	// Install the next thread's machine state.
	dispatchThread(next)
	loadLocation := next.kernelStack.PointerLocation()

	// Stage the old thread; the post-switch hook requeues or drops it.
	control.staged = cur
	control.stagedQueue = requeueQueue
	control.current = next
	controlLock.Release()

	switchStacks(saveLocation, loadLocation, cur, next)

	postYield()
}

// dispatchThread installs a thread's machine state: its address space, its
// floating point state, the interrupt stack and the TLS base.
func dispatchThread(next *Thread) {
	next.process.setAddressSpaceAsCurrent()
	next.loadFloat()
	irq.SetInterruptStack(next.kernelStack.Top())
	cpu.SetFSBase(next.tlsBase)
}

// switchStacks saves the register frame onto the old stack, records its
// stack pointer, loads the new stack pointer and resumes at the new
// context's saved return address.
func switchStacks(saveLocation, loadLocation *uintptr, cur, next *Thread) {
	if cur != nil {
		cur.kernelStack.pushSwitchFrame()
		*saveLocation = cur.kernelStack.pointer
	} else {
		*saveLocation = 0
	}
	_ = loadLocation

	next.resume <- struct{}{}

	if cur == nil {
		<-idleResume
		return
	}

	<-cur.resume
	if cur.dropping {
		runtime.Goexit()
	}

	cur.kernelStack.popSwitchFrame()
}

// pushSwitchFrame lays the sixteen saved slots down, the resume address on
// top of the fifteen register values.
func (s *Stack) pushSwitchFrame() {
	s.Push(funcAddr(postYield))
	for i := 0; i < 15; i++ {
		s.Push(0)
	}
}

func (s *Stack) popSwitchFrame() {
	for i := 0; i < 16; i++ {
		s.Pop()
	}
}

// postYield runs first on every freshly dispatched context: it pops the
// staged thread and either inserts it into its target queue or drops it,
// then leaves the critical section the yield entered.
func postYield() {
	controlLock.Acquire()
	old, queue := control.staged, control.stagedQueue
	control.staged, control.stagedQueue = nil, nil

	if old != nil {
		switch {
		case queue != nil:
			queue.Add(old)
		case old.queue == nil && old != control.current:
			destroyThreadLocked(old)
		}
	}
	controlLock.Release()

	sync.LeaveLocal()
}

// CreateProcess builds a process with one kernel thread and queues it.
func CreateProcess(name string, entry ThreadFunc, context uintptr, descriptors Descriptors, signals Signals, session Session) (*Process, *kernel.Error) {
	as, err := vmm.NewAddressSpace()
	if err != nil {
		return nil, err
	}

	p := &Process{
		name:         name,
		addressSpace: as,
		threads:      NewMap[*Thread](),
		Descriptors:  descriptors,
		Signals:      signals,
		session:      session,
	}

	controlLock.Acquire()
	p.id = control.processes.Insert(p)
	t := newThread(p, entry, context)
	t.id = p.threads.Insert(t)
	control.liveThreads++
	control.running.Push(t)
	controlLock.Release()

	return p, nil
}

// CreateThread builds a kernel thread in the current process and queues it.
func CreateThread(entry ThreadFunc, context uintptr) *Thread {
	p := CurrentProcess()

	controlLock.Acquire()
	t := newThread(p, entry, context)
	t.id = p.threads.Insert(t)
	control.liveThreads++
	control.running.Push(t)
	controlLock.Release()

	return t
}

// CreateUserThread builds a ring 3 thread in the current process and queues
// it.
func CreateUserThread(entry, context, stackTop uintptr) *Thread {
	p := CurrentProcess()

	controlLock.Acquire()
	t := newUserThread(p, entry, context, stackTop)
	t.id = p.threads.Insert(t)
	control.liveThreads++
	control.running.Push(t)
	controlLock.Release()

	return t
}

// ExitThread ends the current thread with the supplied status. Never
// returns.
func ExitThread(status int64) {
	sync.EnterLocal()
	t := control.current
	if t == nil {
		sync.LeaveLocalNoSTI()
		kernel.Panic(errNoCurrent)
	}
	t.exitStatus = status
	sync.LeaveLocalNoSTI()

	Yield(nil)
	kernel.Panic(errExitReturned)
}

// KillThread cancels a thread. Killing the current thread falls through to
// ExitThread; otherwise the target is pulled out of whatever queue it sits
// in and destroyed, delivering its exit status to its exit queue.
func KillThread(t *Thread, status int64) {
	controlLock.Acquire()

	if t == control.current {
		controlLock.Release()
		ExitThread(status)
	}

	if t.destroyed {
		controlLock.Release()
		return
	}

	t.exitStatus = status
	t.dead = true
	t.clearQueue()
	control.running.Remove(t)
	destroyThreadLocked(t)

	controlLock.Release()
}

// ExitProcess kills every thread of the current process except the current
// one, then exits the current thread, which being the last also drops the
// process and its address space. Never returns.
func ExitProcess(status int64) {
	controlLock.Acquire()

	cur := control.current
	if cur == nil {
		controlLock.Release()
		kernel.Panic(errNoCurrent)
	}

	p := cur.process
	p.exitStatus = status
	p.statusSet = true

	var others []*Thread
	p.threads.Visit(func(_ int64, t *Thread) bool {
		if t != cur {
			others = append(others, t)
		}
		return true
	})
	for _, t := range others {
		t.exitStatus = status
		t.dead = true
		t.clearQueue()
		control.running.Remove(t)
		destroyThreadLocked(t)
	}

	controlLock.Release()
	ExitThread(status)
}

// destroyThreadLocked tears down a thread that can never run again: it
// drains the exit queue, unlinks the thread from its process and, when it
// was the last one, drops the process.
func destroyThreadLocked(t *Thread) {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.dead = true
	t.dropping = true

	// Wake the parked context so it can unwind.
	select {
	case t.resume <- struct{}{}:
	default:
	}

	t.clearQueue()

	p := t.process
	p.removeThread(t.id)

	for {
		waiter := t.exitQueue.Pop()
		if waiter == nil {
			break
		}
		waiter.queueData = t.exitStatus
		control.running.Push(waiter)
	}

	control.liveThreads--

	if p.ThreadCount() == 0 {
		destroyProcessLocked(p, t.exitStatus)
	}
}

// destroyProcessLocked drops a process whose last thread died: waiters get
// the exit status and the address space is torn down.
func destroyProcessLocked(p *Process, lastThreadStatus int64) {
	if p.dead {
		return
	}
	p.dead = true

	if !p.statusSet {
		p.exitStatus = lastThreadStatus
		p.statusSet = true
	}

	for {
		waiter := p.exitQueue.Pop()
		if waiter == nil {
			break
		}
		waiter.queueData = p.exitStatus
		control.running.Push(waiter)
	}

	control.processes.Remove(p.id)

	if cpu.ActivePDT() == uintptr(p.addressSpace.Root()) {
		vmm.KernelSpace().SetAsCurrent()
	}
	p.addressSpace.Drop()
}

// WaitThread suspends until the target thread exits and returns its exit
// status. Reports false when the thread is already gone.
func WaitThread(t *Thread) (int64, bool) {
	controlLock.Acquire()
	if t == nil || t.destroyed {
		controlLock.Release()
		return 0, false
	}
	queue := &t.exitQueue
	controlLock.Release()

	Yield(queue)
	return CurrentThread().queueData, true
}

// WaitProcess suspends until the process with the given id exits and
// returns its exit status.
func WaitProcess(pid int64) (int64, *kernel.Error) {
	controlLock.Acquire()
	p, ok := control.processes.Get(pid)
	if !ok {
		controlLock.Release()
		return 0, errNoSuchProcess
	}
	queue := &p.exitQueue
	controlLock.Release()

	Yield(queue)
	return CurrentThread().queueData, nil
}

// ProcessByID looks a live process up.
func ProcessByID(pid int64) (*Process, bool) {
	controlLock.Acquire()
	defer controlLock.Release()
	return control.processes.Get(pid)
}

// VisitProcesses iterates the live processes.
func VisitProcesses(visitor func(p *Process) bool) {
	controlLock.Acquire()
	defer controlLock.Release()
	control.processes.Visit(func(_ int64, p *Process) bool {
		return visitor(p)
	})
}

// RaiseSignal marks a signal pending on a process.
func RaiseSignal(pid int64, sig uint8) *kernel.Error {
	controlLock.Acquire()
	defer controlLock.Release()

	p, ok := control.processes.Get(pid)
	if !ok {
		return errNoSuchProcess
	}
	p.Signals.Raise(sig)
	return nil
}

// WakeOne pops one waiter from the queue and makes it runnable.
func WakeOne(q *ThreadQueue) *Thread {
	controlLock.Acquire()
	t := q.Pop()
	if t != nil {
		control.running.Push(t)
	}
	controlLock.Release()
	return t
}

// WakeAll drains the queue into the run queue.
func WakeAll(q *ThreadQueue) int {
	controlLock.Acquire()
	count := 0
	for {
		t := q.Pop()
		if t == nil {
			break
		}
		control.running.Push(t)
		count++
	}
	controlLock.Release()
	return count
}

// WakeExpired makes every thread whose key is at most now runnable and
// returns how many woke.
func WakeExpired(q *SortedThreadQueue, now uint64) int {
	controlLock.Acquire()
	count := 0
	for {
		t := q.PopExpired(now)
		if t == nil {
			break
		}
		control.running.Push(t)
		count++
	}
	controlLock.Release()
	return count
}

// Run hands the boot context to the scheduler. It returns once no thread
// can ever run again: the kernel reached its idle state.
func Run() {
	Yield(nil)
}
