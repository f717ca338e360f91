package kerneltest

import (
	"bytes"
	"encoding/binary"
)

// Program header types used by the builder.
const (
	PTLoad = 1
	PTNote = 4
	PTTLS  = 7
)

// ELFSegment is one program header of a synthetic executable.
type ELFSegment struct {
	Type  uint32
	Vaddr uint64
	Data  []byte
	Memsz uint64
	Align uint64
}

// ELFImage builds a minimal ET_EXEC x86-64 image in memory.
type ELFImage struct {
	Entry    uint64
	Segments []ELFSegment
}

// Build lays the image out: header, program headers, then segment bytes.
func (img *ELFImage) Build() []byte {
	const ehsize = 64
	const phentsize = 56

	phoff := uint64(ehsize)
	dataOff := phoff + uint64(phentsize*len(img.Segments))

	var buf bytes.Buffer

	ident := make([]byte, 16)
	copy(ident, "\x7fELF")
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)

	le := binary.LittleEndian
	var hdr [48]byte
	le.PutUint16(hdr[0:], 2)  // ET_EXEC
	le.PutUint16(hdr[2:], 62) // EM_X86_64
	le.PutUint32(hdr[4:], 1)  // EV_CURRENT
	le.PutUint64(hdr[8:], img.Entry)
	le.PutUint64(hdr[16:], phoff)
	le.PutUint16(hdr[36:], ehsize)
	le.PutUint16(hdr[38:], phentsize)
	le.PutUint16(hdr[40:], uint16(len(img.Segments)))
	buf.Write(hdr[:])

	off := dataOff
	for _, seg := range img.Segments {
		var ph [phentsize]byte
		le.PutUint32(ph[0:], seg.Type)
		le.PutUint32(ph[4:], 7) // rwx
		le.PutUint64(ph[8:], off)
		le.PutUint64(ph[16:], seg.Vaddr)
		le.PutUint64(ph[24:], seg.Vaddr)
		le.PutUint64(ph[32:], uint64(len(seg.Data)))
		memsz := seg.Memsz
		if memsz < uint64(len(seg.Data)) {
			memsz = uint64(len(seg.Data))
		}
		le.PutUint64(ph[40:], memsz)
		align := seg.Align
		if align == 0 {
			align = 8
		}
		le.PutUint64(ph[48:], align)
		buf.Write(ph[:])
		off += uint64(len(seg.Data))
	}

	for _, seg := range img.Segments {
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}

// MemFile adapts an in-memory image to the loader's file surface.
type MemFile struct {
	Data []byte
}

// ReadAt implements io.ReaderAt.
func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.Data[off:]), nil
}

// Size returns the image length.
func (f *MemFile) Size() int64 { return int64(len(f.Data)) }

// Close is a no-op.
func (f *MemFile) Close() {}
