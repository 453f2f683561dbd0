// Package metadata implements C2 from spec.md: the fixed-layout,
// little-endian header + entry table codec, with the header-CRC-field-
// zeroed-then-computed trick the teacher's pkg/slotcache/format.go uses
// for its own on-disk header (see DESIGN.md).
package metadata

import "encoding/binary"

// HeaderSize is the fixed on-device header size, per spec.md §3.
const HeaderSize = 4096

// EntrySize is the fixed on-device entry size, per spec.md §3.
const EntrySize = 24

// FormatVersion is the only version this codec understands, per
// spec.md §6.
const FormatVersion = 1

// Magic is the constant ASCII tag at the start of every header.
var Magic = [8]byte{'D', 'M', 'R', 'E', 'M', 'A', 'P', '1'}

// Header field byte offsets, mirroring the constant-table style of the
// teacher's pkg/slotcache/format.go (offMagic, offVersion, ...).
const (
	offMagic              = 0x000 // [8]byte
	offFormatVersion      = 0x008 // uint32
	offFlags              = 0x00C // uint32
	offCreatedTime        = 0x010 // uint64
	offUpdatedTime        = 0x018 // uint64
	offSequence           = 0x020 // uint64
	offEntryCount         = 0x028 // uint32
	offEntryCapacity      = 0x02C // uint32
	offPrimarySizeSectors = 0x030 // uint64
	offSpareSizeSectors   = 0x038 // uint64
	offHeaderCRC32        = 0x040 // uint32
	offTableCRC32         = 0x044 // uint32
	// Remaining bytes through HeaderSize-1 are reserved and always zero.
)

// Header is the decoded form of the 4 KiB on-device header, per
// spec.md §3.
type Header struct {
	FormatVersion      uint32
	Flags              uint32
	CreatedTime        uint64
	UpdatedTime        uint64
	Sequence           uint64
	EntryCount         uint32
	EntryCapacity      uint32
	PrimarySizeSectors uint64
	SpareSizeSectors   uint64
	HeaderCRC32        uint32
	TableCRC32         uint32
}

// encodeHeaderBytes serializes h into a HeaderSize-byte buffer, computing
// and filling HeaderCRC32 over the buffer with that field zeroed — the
// same "zero the CRC field, compute, write it back" idiom as
// pkg/slotcache/format.go's encodeHeader, applied to spec.md's layout
// instead of slotcache's SLC1 layout.
func encodeHeaderBytes(h Header) []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[offMagic:], Magic[:])
	binary.LittleEndian.PutUint32(buf[offFormatVersion:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[offFlags:], h.Flags)
	binary.LittleEndian.PutUint64(buf[offCreatedTime:], h.CreatedTime)
	binary.LittleEndian.PutUint64(buf[offUpdatedTime:], h.UpdatedTime)
	binary.LittleEndian.PutUint64(buf[offSequence:], h.Sequence)
	binary.LittleEndian.PutUint32(buf[offEntryCount:], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[offEntryCapacity:], h.EntryCapacity)
	binary.LittleEndian.PutUint64(buf[offPrimarySizeSectors:], h.PrimarySizeSectors)
	binary.LittleEndian.PutUint64(buf[offSpareSizeSectors:], h.SpareSizeSectors)
	binary.LittleEndian.PutUint32(buf[offTableCRC32:], h.TableCRC32)

	// offHeaderCRC32 left zero for the CRC computation.
	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[offHeaderCRC32:], crc)

	return buf
}

func decodeHeaderBytes(buf []byte) Header {
	return Header{
		FormatVersion:      binary.LittleEndian.Uint32(buf[offFormatVersion:]),
		Flags:              binary.LittleEndian.Uint32(buf[offFlags:]),
		CreatedTime:        binary.LittleEndian.Uint64(buf[offCreatedTime:]),
		UpdatedTime:        binary.LittleEndian.Uint64(buf[offUpdatedTime:]),
		Sequence:           binary.LittleEndian.Uint64(buf[offSequence:]),
		EntryCount:         binary.LittleEndian.Uint32(buf[offEntryCount:]),
		EntryCapacity:      binary.LittleEndian.Uint32(buf[offEntryCapacity:]),
		PrimarySizeSectors: binary.LittleEndian.Uint64(buf[offPrimarySizeSectors:]),
		SpareSizeSectors:   binary.LittleEndian.Uint64(buf[offSpareSizeSectors:]),
		HeaderCRC32:        binary.LittleEndian.Uint32(buf[offHeaderCRC32:]),
		TableCRC32:         binary.LittleEndian.Uint32(buf[offTableCRC32:]),
	}
}
