package proc

import (
	"los/kernel/mm/vmm"
)

// Session is the opaque owner of a group of processes sharing a console or
// daemon context. The presentation layer implements it.
type Session interface {
	ID() int64
	ConsoleWrite(data []byte) int
}

// Descriptors is the per-process descriptor table. Each kind runs its own
// id space; the payloads belong to the owning subsystems and stay opaque
// here.
type Descriptors struct {
	Files       Map[any]
	Directories Map[any]
	Devices     Map[any]
	PipeReaders Map[any]
	PipeWriters Map[any]
	Mutexes     Map[any]
	CondVars    Map[any]

	// WorkingDirectory is the resolved working directory path.
	WorkingDirectory string
}

// NewDescriptors builds an empty table.
func NewDescriptors() Descriptors {
	return Descriptors{
		Files:       NewMap[any](),
		Directories: NewMap[any](),
		Devices:     NewMap[any](),
		PipeReaders: NewMap[any](),
		PipeWriters: NewMap[any](),
		Mutexes:     NewMap[any](),
		CondVars:    NewMap[any](),
	}
}

// Process owns an address space, its threads, a descriptor table and a
// signal table. It dies when its last thread exits.
type Process struct {
	id   int64
	name string

	addressSpace vmm.AddressSpace
	threads      Map[*Thread]

	Descriptors Descriptors
	Signals     Signals

	session Session

	// processTime counts the milliseconds this process has been current.
	processTime int64

	// exitQueue holds threads waiting for this process to die.
	exitQueue  ThreadQueue
	exitStatus int64
	statusSet  bool

	dead bool
}

// ID returns the process id.
func (p *Process) ID() int64 { return p.id }

// Name returns the executable name the process was created with.
func (p *Process) Name() string { return p.name }

// Session returns the owning session, if any.
func (p *Process) Session() Session { return p.session }

// AddressSpace returns the process's address space.
func (p *Process) AddressSpace() *vmm.AddressSpace { return &p.addressSpace }

// Dead reports whether the process has been torn down.
func (p *Process) Dead() bool { return p.dead }

// ProcessTime returns the accumulated milliseconds.
func (p *Process) ProcessTime() int64 { return p.processTime }

// TickProcessTime adds one millisecond; called by the timer while this
// process is current.
func (p *Process) TickProcessTime() { p.processTime++ }

// setAddressSpaceAsCurrent installs the process's page tables.
func (p *Process) setAddressSpaceAsCurrent() {
	p.addressSpace.SetAsCurrent()
}

// removeThread unlinks a thread from the process map.
func (p *Process) removeThread(id int64) {
	p.threads.Remove(id)
}

// ThreadCount returns the number of live threads.
func (p *Process) ThreadCount() int {
	return p.threads.Len()
}

// Thread returns the thread with the given id.
func (p *Process) Thread(id int64) (*Thread, bool) {
	return p.threads.Get(id)
}
