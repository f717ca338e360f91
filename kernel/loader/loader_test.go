package loader_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"los/kernel"
	"los/kernel/cpu"
	"los/kernel/kerneltest"
	"los/kernel/loader"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
	"los/kernel/proc"
	"los/kernel/syscalls"
)

// testFS serves in-memory executables.
type testFS struct {
	files map[string][]byte
}

type testFile struct {
	data []byte
}

func (f *testFile) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.data[off:]), nil
}
func (f *testFile) Size() int64 { return int64(len(f.data)) }
func (f *testFile) Close()      {}

var errFileNotFound = &kernel.Error{Module: "testfs", ModuleNum: kernel.ModuleNumFilesystem, Status: kernel.StatusNotFound, Message: "not found"}

func (fs *testFS) Open(path string) (loader.File, *kernel.Error) {
	data, ok := fs.files[path]
	if !ok {
		return nil, errFileNotFound
	}
	return &testFile{data: data}, nil
}

// testSession collects console output.
type testSession struct {
	id      int64
	console bytes.Buffer
}

func (s *testSession) ID() int64 { return s.id }
func (s *testSession) ConsoleWrite(data []byte) int {
	s.console.Write(data)
	return len(data)
}

// userPrograms dispatches ring 3 entries to Go bodies standing in for the
// mapped text.
var userPrograms map[uintptr]func(context uintptr)

func installUserDispatcher(t *testing.T) {
	t.Helper()

	userPrograms = make(map[uintptr]func(context uintptr))
	prev := cpu.EnterUser
	cpu.EnterUser = func(entry, context, stackTop uintptr) {
		body, ok := userPrograms[entry]
		if !ok {
			t.Errorf("no program body registered for entry %x", entry)
			return
		}
		syscalls.SetUserContext(entry, stackTop)
		body(context)
	}
	t.Cleanup(func() { cpu.EnterUser = prev })
}

// helloImage builds the "hello" executable: entry at 0x401000 with a few
// real instructions so the image is also disassemblable.
func helloImage() []byte {
	img := kerneltest.ELFImage{
		Entry: 0x40_1000,
		Segments: []kerneltest.ELFSegment{
			{Type: kerneltest.PTLoad, Vaddr: 0x40_1000, Data: []byte{0x48, 0x31, 0xC0, 0x0F, 0x05, 0xC3}},
		},
	}
	return img.Build()
}

func TestExecuteHelloWorld(t *testing.T) {
	kerneltest.Boot(t, "")
	installUserDispatcher(t)

	loader.SetFilesystem(&testFS{files: map[string][]byte{"/bin/hello": helloImage()}})
	t.Cleanup(func() { loader.SetFilesystem(nil) })

	session := &testSession{id: 1}

	// The program body: read argv out of the userspace context, compose
	// the greeting on the user stack and write it to the console, then
	// exit 42.
	userPrograms[0x40_1000] = func(context uintptr) {
		ctx := make([]byte, 6*8)
		if err := vmm.CopyFromUser(ctx, mm.VirtualAddress(context)); err != nil {
			t.Errorf("context read failed: %s", err.Message)
			syscalls.Handle(syscalls.SysExitProcess, 1, 0, 0, 0, 0)
		}

		le := binary.LittleEndian
		argc := le.Uint64(ctx[0:])
		argvPtr := le.Uint64(ctx[8:])

		var words []string
		for i := uint64(0); i < argc; i++ {
			var entry [8]byte
			vmm.CopyFromUser(entry[:], mm.VirtualAddress(argvPtr+i*8))
			strPtr := le.Uint64(entry[:])

			var word []byte
			for {
				b, err := vmm.LoadUser(mm.VirtualAddress(strPtr), 0x40_1000)
				if err != nil || b == 0 {
					break
				}
				word = append(word, b)
				strPtr++
			}
			words = append(words, string(word))
		}

		if len(words) != 2 {
			t.Errorf("expected 2 arguments; got %v", words)
		}

		greeting := []byte(words[0] + " " + words[1] + "\n")
		scratch := loader.UserStackTop - 0x1000
		vmm.CopyToUser(mm.VirtualAddress(scratch), greeting)

		if ret := syscalls.Handle(syscalls.SysConsoleWrite, scratch, uintptr(len(greeting)), 0, 0, 0); ret != int64(len(greeting)) {
			t.Errorf("console write returned %d", ret)
		}

		syscalls.Handle(syscalls.SysExitProcess, 42, 0, 0, 0, 0)
	}

	var waited int64 = -1
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		stdio := loader.StandardIO{
			Out: loader.StandardIOTarget{Type: loader.StandardIOConsole},
		}

		p, err := loader.Execute("/bin/hello", []string{"hello", "world"}, []string{"TERM=los"}, stdio, session, false)
		if err != nil {
			t.Errorf("execute failed: %s", err.Message)
			return 1
		}

		status, err := proc.WaitProcess(p.ID())
		if err != nil {
			t.Errorf("wait failed: %s", err.Message)
			return 1
		}
		waited = status
		return 0
	})

	proc.Run()

	if waited != 42 {
		t.Fatalf("expected exit status 42; got %d", waited)
	}
	if got := session.console.String(); got != "hello world\n" {
		t.Fatalf("console received %q", got)
	}
}

func TestExecuteMissingFile(t *testing.T) {
	kerneltest.Boot(t, "")

	loader.SetFilesystem(&testFS{files: map[string][]byte{}})
	t.Cleanup(func() { loader.SetFilesystem(nil) })

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		if _, err := loader.Execute("/bin/nope", nil, nil, loader.StandardIO{}, nil, false); err == nil {
			t.Error("expected missing file to fail")
		}
		return 0
	})

	proc.Run()
}

func TestExecuteWorkingDirectoryDerivation(t *testing.T) {
	kerneltest.Boot(t, "")
	installUserDispatcher(t)

	loader.SetFilesystem(&testFS{files: map[string][]byte{"/apps/demo/tool": helloImage()}})
	t.Cleanup(func() { loader.SetFilesystem(nil) })

	userPrograms[0x40_1000] = func(context uintptr) {
		syscalls.Handle(syscalls.SysExitProcess, 0, 0, 0, 0, 0)
	}

	var wd string
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		p, err := loader.Execute("/apps/demo/tool", nil, nil, loader.StandardIO{}, nil, false)
		if err != nil {
			t.Errorf("execute failed: %s", err.Message)
			return 1
		}
		wd = p.Descriptors.WorkingDirectory
		proc.WaitProcess(p.ID())
		return 0
	})

	proc.Run()

	if wd != "apps/demo" {
		t.Fatalf("expected derived working directory %q; got %q", "apps/demo", wd)
	}
}
