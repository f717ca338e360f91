package loader

import "encoding/binary"

// StandardIOType selects what a standard stream is connected to.
type StandardIOType uint64

const (
	StandardIONone StandardIOType = iota
	StandardIOConsole
	StandardIOFile
	StandardIOPipe
)

// StandardIOTarget is one stream of the stdio spec.
type StandardIOTarget struct {
	Type       StandardIOType
	Descriptor int64
}

// StandardIO describes where the new process's standard streams point.
type StandardIO struct {
	In  StandardIOTarget
	Out StandardIOTarget
	Err StandardIOTarget
}

// cStandardIOSize is the packed size of the CStandardIO block laid into the
// userspace context: three (type, descriptor) pairs.
const cStandardIOSize = 3 * 16

// encode packs the stdio spec the way the C runtime reads it.
func (s *StandardIO) encode() []byte {
	buf := make([]byte, cStandardIOSize)
	for i, target := range []StandardIOTarget{s.In, s.Out, s.Err} {
		binary.LittleEndian.PutUint64(buf[i*16:], uint64(target.Type))
		binary.LittleEndian.PutUint64(buf[i*16+8:], uint64(target.Descriptor))
	}
	return buf
}
