// Package loader turns executable images into processes: it verifies and
// maps ELF segments into a fresh address space, lays out the userspace
// context below the TLS image and spawns the entry thread in ring 3.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"strings"

	"los/kernel"
	"los/kernel/kfmt"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
)

const (
	// TLSLocation is the fixed virtual address of the TLS image; the
	// userspace context is laid out downward from it.
	TLSLocation = mm.VirtualAddress(0x7000_0000_0000)

	// UserStackTop is the conventional initial user stack top.
	UserStackTop = uintptr(0x6000_0000_0000)

	// userspaceContextSize covers argc, argv, envp, stdio, tls_size and
	// tls_align.
	userspaceContextSize = 6 * 8

	// UserspaceContextLocation is where the entry thread's context
	// register points.
	UserspaceContextLocation = TLSLocation - userspaceContextSize
)

// File is the executable handle the loader consumes. The filesystem driver
// behind it stays out of scope.
type File interface {
	io.ReaderAt
	Size() int64
	Close()
}

// Filesystem resolves executable paths. Registered at boot by whichever
// filesystem driver is present.
type Filesystem interface {
	Open(path string) (File, *kernel.Error)
}

var (
	errNoFilesystem = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusNoDevice, Message: "no filesystem registered"}

	filesystem Filesystem
)

// SetFilesystem registers the path resolver used by Execute.
func SetFilesystem(fs Filesystem) {
	filesystem = fs
}

// kernelspaceContext carries everything the loader thread needs into the
// new address space.
type kernelspaceContext struct {
	image       *elf.File
	file        File
	name        string
	args        []string
	environment []string
	stdio       StandardIO
}

// pendingContexts hands kernelspace contexts to loader threads by id, the
// way a context pointer would travel through the entry register.
var pendingContexts = struct {
	items  map[uintptr]*kernelspaceContext
	nextID uintptr
}{items: make(map[uintptr]*kernelspaceContext)}

// Execute runs an executable: it opens and verifies the file, resolves the
// working directory, builds the kernelspace context and creates the new
// process whose first thread is the loader itself.
func Execute(filepath string, args, environment []string, stdio StandardIO, session proc.Session, inheritSignals bool) (*proc.Process, *kernel.Error) {
	if filesystem == nil {
		return nil, errNoFilesystem
	}

	file, err := filesystem.Open(filepath)
	if err != nil {
		return nil, err
	}

	image, err := verifyExecutable(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	// The new process inherits the caller's working directory, or
	// derives one from the executable path.
	workingDirectory := deriveWorkingDirectory(filepath)
	if t := proc.CurrentThreadOption(); t != nil {
		if wd := t.Process().Descriptors.WorkingDirectory; wd != "" {
			workingDirectory = wd
		}
	}

	descriptors := proc.NewDescriptors()
	descriptors.WorkingDirectory = workingDirectory

	signals := proc.NewSignals()
	if inheritSignals {
		if t := proc.CurrentThreadOption(); t != nil {
			signals = t.Process().Signals.Inherit()
		}
	}

	context := &kernelspaceContext{
		image:       image,
		file:        file,
		name:        processName(filepath),
		args:        args,
		environment: environment,
		stdio:       stdio,
	}

	pendingContexts.nextID++
	contextID := pendingContexts.nextID
	pendingContexts.items[contextID] = context

	return proc.CreateProcess(context.name, loadProcess, contextID, descriptors, signals, session)
}

// loadProcess is the entry of the new process's first thread. It runs
// inside the new address space: it maps the segments, lays out the
// userspace context and spawns the ring 3 entry thread.
func loadProcess(contextID uintptr) int64 {
	context := pendingContexts.items[contextID]
	delete(pendingContexts.items, contextID)
	defer context.file.Close()
	defer context.image.Close()

	loaded, err := loadExecutable(context.image)
	if err != nil {
		kfmt.Printf("[loader] error while loading executable: %s\n", err.Message)
		proc.ExitProcess(err.Code())
	}

	/*  |===========| TLSLocation + tlsSize
	 *  |    TLS    |
	 *  |===========| TLSLocation
	 *  | Userspace |
	 *  |  Context  |
	 *  |===========| UserspaceContextLocation
	 *  |   Stdio   |
	 *  |===========| cStdioLocation
	 *  | Args List |
	 *  |===========| argListStart
	 *  | Envs List |
	 *  |===========| envListStart
	 *  |  Args...  |
	 *  |===========|
	 *  |  Envs...  |
	 *  |===========|
	 *
	 *  Args and envs are built downwards, putting the first argument at
	 *  the top.
	 */

	cStdioLocation := UserspaceContextLocation - cStandardIOSize
	argListStart := cStdioLocation - mm.VirtualAddress(8*(len(context.args)+1))
	envListStart := argListStart - mm.VirtualAddress(8*(len(context.environment)+1))

	vmm.CopyToUser(cStdioLocation, context.stdio.encode())

	argList := make([]byte, 8*(len(context.args)+1))
	envList := make([]byte, 8*(len(context.environment)+1))

	ptr := envListStart
	for i, arg := range context.args {
		ptr -= mm.VirtualAddress(len(arg) + 1)
		binary.LittleEndian.PutUint64(argList[i*8:], uint64(ptr))
		vmm.CopyToUser(ptr, append([]byte(arg), 0))
	}
	for i, env := range context.environment {
		ptr -= mm.VirtualAddress(len(env) + 1)
		binary.LittleEndian.PutUint64(envList[i*8:], uint64(ptr))
		vmm.CopyToUser(ptr, append([]byte(env), 0))
	}

	vmm.CopyToUser(argListStart, argList)
	vmm.CopyToUser(envListStart, envList)

	// The userspace context itself.
	contextBuf := make([]byte, userspaceContextSize)
	binary.LittleEndian.PutUint64(contextBuf[0:], uint64(len(context.args)))
	binary.LittleEndian.PutUint64(contextBuf[8:], uint64(argListStart))
	binary.LittleEndian.PutUint64(contextBuf[16:], uint64(envListStart))
	binary.LittleEndian.PutUint64(contextBuf[24:], uint64(cStdioLocation))
	binary.LittleEndian.PutUint64(contextBuf[32:], uint64(loaded.tlsSize))
	binary.LittleEndian.PutUint64(contextBuf[40:], uint64(loaded.tlsAlign))
	vmm.CopyToUser(UserspaceContextLocation, contextBuf)

	entryThread := proc.CreateUserThread(loaded.entry, uintptr(UserspaceContextLocation), UserStackTop)
	entryThread.SetTLSBase(uintptr(TLSLocation) + loaded.tlsSize)

	return 0
}

func processName(filepath string) string {
	parts := strings.FieldsFunc(filepath, func(c rune) bool { return c == '/' || c == '\\' })
	if len(parts) == 0 {
		return filepath
	}
	return parts[len(parts)-1]
}

func deriveWorkingDirectory(filepath string) string {
	parts := strings.FieldsFunc(filepath, func(c rune) bool { return c == '/' || c == '\\' })
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], "/")
}
