package loader

import (
	"debug/elf"

	"los/kernel"
	"los/kernel/mm"
	"los/kernel/mm/vmm"
)

var (
	errNotExecutable = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusInvalidExecutable, Message: "not a valid executable image"}
	errWrongClass    = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusNotSupported, Message: "executable is not 64-bit little-endian x86-64"}
	errWrongType     = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusNotSupported, Message: "executable is not ET_EXEC"}
	errSegmentRange  = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusInvalidExecutable, Message: "segment reaches into kernel space"}
	errTwoTLS        = &kernel.Error{Module: "loader", ModuleNum: kernel.ModuleNumLoader, Status: kernel.StatusInvalidExecutable, Message: "more than one TLS segment"}
)

// loadedImage is what the loader hands back: the entry point plus the TLS
// descriptor.
type loadedImage struct {
	entry    uintptr
	tlsSize  uintptr
	tlsAlign uintptr
}

// verifyExecutable opens the image and checks magic, class, byte order,
// machine, object type and version.
func verifyExecutable(file File) (*elf.File, *kernel.Error) {
	image, err := elf.NewFile(file)
	if err != nil {
		return nil, errNotExecutable
	}

	if image.Class != elf.ELFCLASS64 || image.Data != elf.ELFDATA2LSB || image.Machine != elf.EM_X86_64 {
		image.Close()
		return nil, errWrongClass
	}
	if image.Type != elf.ET_EXEC {
		image.Close()
		return nil, errWrongType
	}
	if image.Version != elf.EV_CURRENT {
		image.Close()
		return nil, errNotExecutable
	}

	return image, nil
}

// loadExecutable maps the image into the current address space: each
// PT_LOAD segment is copied and zero-filled to its memory size, and at most
// one PT_TLS template is copied to the fixed TLS address. Unknown segment
// kinds are skipped.
func loadExecutable(image *elf.File) (loadedImage, *kernel.Error) {
	loaded := loadedImage{entry: uintptr(image.Entry)}
	haveTLS := false

	for _, prog := range image.Progs {
		switch prog.Type {
		case elf.PT_LOAD:
			if prog.Memsz == 0 {
				continue
			}
			if mm.VirtualAddress(prog.Vaddr + prog.Memsz).IsKernel() {
				return loaded, errSegmentRange
			}

			data := make([]byte, prog.Memsz)
			if prog.Filesz > 0 {
				if _, err := prog.ReadAt(data[:prog.Filesz], 0); err != nil {
					return loaded, errNotExecutable
				}
			}
			if err := vmm.CopyToUser(mm.VirtualAddress(prog.Vaddr), data); err != nil {
				return loaded, err
			}

		case elf.PT_TLS:
			if haveTLS {
				return loaded, errTwoTLS
			}
			haveTLS = true

			template := make([]byte, prog.Memsz)
			if prog.Filesz > 0 {
				if _, err := prog.ReadAt(template[:prog.Filesz], 0); err != nil {
					return loaded, errNotExecutable
				}
			}
			if err := vmm.CopyToUser(TLSLocation, template); err != nil {
				return loaded, err
			}

			loaded.tlsSize = uintptr(prog.Memsz)
			loaded.tlsAlign = uintptr(prog.Align)
		}
	}

	return loaded, nil
}
