package kernel

import (
	"los/kernel/kfmt"
)

var (
	// panicHaltFn is mocked by tests. The default aborts the simulated
	// machine loudly instead of spinning a dead CPU.
	panicHaltFn = func(e *Error) {
		panic(e)
	}

	errRuntimePanic = &Error{Module: "rt", ModuleNum: ModuleNumKernel, Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// machine. Calls to Panic never return.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	panicHaltFn(err)

	// A swapped-in halt hook may return; the machine still must not.
	panic(err)
}
