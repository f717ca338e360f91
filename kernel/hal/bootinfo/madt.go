package bootinfo

import "encoding/binary"

// MADT entry types consumed by the IRQ router.
const (
	MADTEntryLocalAPIC            = 0x00
	MADTEntryIOAPIC               = 0x01
	MADTEntryInterruptOverride    = 0x02
	MADTEntryNMISource            = 0x03
	MADTEntryLocalAPICNMI         = 0x04
	MADTEntryLocalAPICOverride    = 0x05
	MADTEntryProcessorLocalx2APIC = 0x09
)

// MADTFlagPCAT is set when dual 8259 PICs are installed.
const MADTFlagPCAT = 1 << 0

const madtHeaderLen = 36 + 8

// MADTBuilder assembles a Multiple APIC Description Table image the way the
// firmware would lay it out.
type MADTBuilder struct {
	LapicAddress  uint32
	Flags         uint32
	entries       []byte
	lapicOverride uint64
}

// AddIOAPIC appends an I/O APIC descriptor.
func (b *MADTBuilder) AddIOAPIC(id uint8, address uint32, irqBase uint32) {
	entry := make([]byte, 12)
	entry[0] = MADTEntryIOAPIC
	entry[1] = 12
	entry[2] = id
	binary.LittleEndian.PutUint32(entry[4:], address)
	binary.LittleEndian.PutUint32(entry[8:], irqBase)
	b.entries = append(b.entries, entry...)
}

// AddLocalAPICOverride appends a 64-bit local APIC address override.
func (b *MADTBuilder) AddLocalAPICOverride(address uint64) {
	entry := make([]byte, 12)
	entry[0] = MADTEntryLocalAPICOverride
	entry[1] = 12
	binary.LittleEndian.PutUint64(entry[4:], address)
	b.entries = append(b.entries, entry...)
	b.lapicOverride = address
}

// Build returns the raw table image.
func (b *MADTBuilder) Build() []byte {
	table := make([]byte, madtHeaderLen+len(b.entries))
	copy(table[0:4], "APIC")
	binary.LittleEndian.PutUint32(table[4:], uint32(len(table)))
	table[8] = 3 // revision
	copy(table[10:16], "LOSSIM")
	binary.LittleEndian.PutUint32(table[36:], b.LapicAddress)
	binary.LittleEndian.PutUint32(table[40:], b.Flags)
	copy(table[madtHeaderLen:], b.entries)

	var checksum uint8
	for _, v := range table {
		checksum += v
	}
	table[9] = uint8(0) - checksum

	return table
}
