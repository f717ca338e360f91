package irq

import (
	"los/kernel"
	"los/kernel/sync"
)

// ExceptionNum defines a CPU exception number.
type ExceptionNum uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = ExceptionNum(0)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid
	// or undefined instruction opcode.
	InvalidOpcode = ExceptionNum(6)

	// DoubleFault occurs when an exception is unhandled or when an
	// exception occurs while the CPU is trying to call an exception
	// handler.
	DoubleFault = ExceptionNum(8)

	// GPFException is raised when a general protection fault occurs.
	GPFException = ExceptionNum(13)

	// PageFaultException is raised when a page table entry is not
	// present or when a privilege or RW protection check fails.
	PageFaultException = ExceptionNum(14)

	numExceptions = 32
)

// ExceptionHandler is a function that handles a CPU exception. If the
// handler returns, any modifications to the supplied info and register
// pointers are propagated back to the location where the exception occurred.
type ExceptionHandler func(*Regs, *ExceptionInfo)

var (
	errExceptionsDoubleInit = &kernel.Error{Module: "exceptions", ModuleNum: kernel.ModuleNumInterrupts, Status: kernel.StatusExists, Message: "exception dispatch initialized twice"}
	errNoDefaultHandler     = &kernel.Error{Module: "exceptions", ModuleNum: kernel.ModuleNumInterrupts, Status: kernel.StatusNotFound, Message: "no default exception handler setup"}
	errNoPostHandler        = &kernel.Error{Module: "exceptions", ModuleNum: kernel.ModuleNumInterrupts, Status: kernel.StatusNotFound, Message: "no post exception handler setup"}

	exceptionsInitialized bool

	exceptionHandlersLock sync.CriticalLock
	exceptionHandlers     [numExceptions]ExceptionHandler

	// The default and post handlers are set once at boot and are
	// thereafter read-only, so they need no lock.
	defaultExceptionHandler ExceptionHandler = func(*Regs, *ExceptionInfo) { kernel.Panic(errNoDefaultHandler) }
	postExceptionHandler    ExceptionHandler = func(*Regs, *ExceptionInfo) { kernel.Panic(errNoPostHandler) }
)

// InitExceptions installs the 32 exception stubs and records the default
// handler (invoked when no specific handler is installed) and the post hook
// that runs after every exception.
func InitExceptions(defaultHandler, postHandler ExceptionHandler) *kernel.Error {
	if exceptionsInitialized {
		return errExceptionsDoubleInit
	}
	exceptionsInitialized = true

	defaultExceptionHandler = defaultHandler
	postExceptionHandler = postHandler

	for vector := uint8(0); vector < numExceptions; vector++ {
		installInterruptHandler(vector, exceptionStub)
	}
	return nil
}

// InstallExceptionHandler registers a handler for one exception number.
func InstallExceptionHandler(exception ExceptionNum, handler ExceptionHandler) {
	if exception >= numExceptions {
		return
	}

	exceptionHandlersLock.Acquire()
	exceptionHandlers[exception] = handler
	exceptionHandlersLock.Release()
}

// exceptionStub routes an exception vector accepted through the IDT into
// the common dispatcher with no error code.
func exceptionStub(vector uint8) {
	DispatchException(ExceptionNum(vector), 0, 0, nil)
}

// DispatchException runs the common exception trampoline: the installed
// handler (or the default one) followed by the post hook. Synchronous fault
// paths invoke it directly, the way the assembly stubs would.
func DispatchException(exception ExceptionNum, errorCode uint64, rip uint64, regs *Regs) {
	if regs == nil {
		regs = &Regs{}
	}
	info := &ExceptionInfo{
		Interrupt: uint64(exception),
		ErrorCode: errorCode,
		RIP:       rip,
		CS:        SelectorUserCode,
		RFlags:    0x202,
	}

	exceptionHandlersLock.Acquire()
	handler := exceptionHandlers[exception]
	exceptionHandlersLock.Release()

	if handler == nil {
		handler = defaultExceptionHandler
	}

	handler(regs, info)
	postExceptionHandler(regs, info)
}
