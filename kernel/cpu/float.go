package cpu

// FloatStorageSize is the size of the per-thread FXSAVE region.
const FloatStorageSize = 512

// fpRegs models the floating point register file.
var fpRegs [FloatStorageSize]byte

// FloatSave stores the floating point state into the supplied 16-aligned
// save area.
var FloatSave = func(area []byte) {
	copy(area, fpRegs[:])
}

// FloatLoad restores the floating point state from the supplied save area.
var FloatLoad = func(area []byte) {
	copy(fpRegs[:], area)
}

// EnterUser crosses to ring 3: it is invoked with the target instruction
// pointer, the context register value and the user stack top from a fully
// built return frame. The boot code installs the dispatcher that runs the
// mapped program body.
var EnterUser func(entry, context, stackTop uintptr)
