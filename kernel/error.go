package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure so that raising one
// never allocates.
type Error struct {
	// The module where the error occurred.
	Module string

	// The module number used when packing the error for userspace.
	ModuleNum int

	// The status class of the error.
	Status Status

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Code packs the error into the signed value returned by a failing system
// call: -(module * 256 + status).
func (e *Error) Code() int64 {
	return -(int64(e.ModuleNum)*256 + int64(e.Status))
}
