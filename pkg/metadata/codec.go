package metadata

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/dmremap/dmremap/pkg/remaptable"
)

// ieeeTable is CRC-32 IEEE, the polynomial spec.md §6 normatively pins
// for both header_crc32 and table_crc32. Deliberately stdlib — see
// SPEC_FULL.md DOMAIN STACK.
var ieeeTable = crc32.IEEETable

func computeHeaderCRC(headerBuf []byte) uint32 {
	tmp := make([]byte, len(headerBuf))
	copy(tmp, headerBuf)
	binary.LittleEndian.PutUint32(tmp[offHeaderCRC32:], 0)

	return crc32.Checksum(tmp, ieeeTable)
}

func computeTableCRC(tableBuf []byte) uint32 {
	return crc32.Checksum(tableBuf, ieeeTable)
}

// EncodeEntries serializes entries into a capacity*EntrySize byte slice,
// with any trailing slots (beyond len(entries)) zero-padded, per
// spec.md §4.2.
func EncodeEntries(entries []remaptable.Entry, capacity uint32) ([]byte, error) {
	if uint32(len(entries)) > capacity {
		return nil, fmt.Errorf("metadata: %d entries exceeds capacity %d", len(entries), capacity)
	}

	buf := make([]byte, int(capacity)*EntrySize)

	for i, e := range entries {
		off := i * EntrySize
		binary.LittleEndian.PutUint64(buf[off:], e.PrimarySector)
		binary.LittleEndian.PutUint64(buf[off+8:], e.SpareSector)
		binary.LittleEndian.PutUint32(buf[off+16:], e.Length)
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(e.Flags))
	}

	return buf, nil
}

// DecodeEntries deserializes the first count entries from buf.
func DecodeEntries(buf []byte, count uint32) ([]remaptable.Entry, error) {
	needed := int(count) * EntrySize
	if len(buf) < needed {
		return nil, fmt.Errorf("%w: entry table shorter than entry_count implies", ErrCorruptTable)
	}

	entries := make([]remaptable.Entry, count)

	for i := range entries {
		off := i * EntrySize
		entries[i] = remaptable.Entry{
			PrimarySector: binary.LittleEndian.Uint64(buf[off:]),
			SpareSector:   binary.LittleEndian.Uint64(buf[off+8:]),
			Length:        binary.LittleEndian.Uint32(buf[off+16:]),
			Flags:         remaptable.Flag(binary.LittleEndian.Uint32(buf[off+20:])),
		}
	}

	return entries, nil
}

// Image is the encoded (header, entry table) byte pair MetadataStore
// writes as one copy.
type Image struct {
	HeaderBytes []byte // exactly HeaderSize bytes
	TableBytes  []byte // exactly int(capacity)*EntrySize bytes
	Header      Header
}

// EncodeParams carries everything Encode needs beyond the entries
// themselves.
type EncodeParams struct {
	PriorSequence      uint64
	EntryCapacity      uint32
	PrimarySizeSectors uint64
	SpareSizeSectors   uint64
	CreatedTime        uint64 // preserved from the first activation
	UpdatedTime        uint64 // now
	Flags              uint32
}

// Encode serializes a RemapTable snapshot into an Image, per spec.md
// §4.2: sequence = prior + 1, entry_count = len(entries), CRCs computed
// over entries then over the header with header_crc32 zeroed.
func Encode(entries []remaptable.Entry, p EncodeParams) (Image, error) {
	tableBytes, err := EncodeEntries(entries, p.EntryCapacity)
	if err != nil {
		return Image{}, err
	}

	h := Header{
		FormatVersion:      FormatVersion,
		Flags:              p.Flags,
		CreatedTime:        p.CreatedTime,
		UpdatedTime:        p.UpdatedTime,
		Sequence:           p.PriorSequence + 1,
		EntryCount:         uint32(len(entries)),
		EntryCapacity:      p.EntryCapacity,
		PrimarySizeSectors: p.PrimarySizeSectors,
		SpareSizeSectors:   p.SpareSizeSectors,
		TableCRC32:         computeTableCRC(tableBytes),
	}

	headerBytes := encodeHeaderBytes(h)
	h.HeaderCRC32 = binary.LittleEndian.Uint32(headerBytes[offHeaderCRC32:])

	return Image{HeaderBytes: headerBytes, TableBytes: tableBytes, Header: h}, nil
}

// DecodeParams carries the actual device sizes Decode validates the
// header against.
type DecodeParams struct {
	ActualPrimarySizeSectors uint64
	ActualSpareSizeSectors   uint64
}

// Decode validates and deserializes one copy, in the order spec.md §4.2
// mandates: magic, then format version, then sizes against the actual
// device, then header CRC, then entry table CRC.
func Decode(headerBytes, tableBytes []byte, p DecodeParams) (Header, []remaptable.Entry, error) {
	if len(headerBytes) != HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: header is %d bytes, want %d", ErrCorruptHeader, len(headerBytes), HeaderSize)
	}

	var magic [8]byte
	copy(magic[:], headerBytes[offMagic:offMagic+8])

	if magic != Magic {
		return Header{}, nil, ErrBadMagic
	}

	h := decodeHeaderBytes(headerBytes)

	if h.FormatVersion != FormatVersion {
		return Header{}, nil, fmt.Errorf("%w: got version %d, want %d", ErrUnsupportedVersion, h.FormatVersion, FormatVersion)
	}

	if h.PrimarySizeSectors != p.ActualPrimarySizeSectors || h.SpareSizeSectors != p.ActualSpareSizeSectors {
		return Header{}, nil, fmt.Errorf("%w: recorded device sizes (%d, %d) do not match actual (%d, %d)",
			ErrCorruptHeader, h.PrimarySizeSectors, h.SpareSizeSectors, p.ActualPrimarySizeSectors, p.ActualSpareSizeSectors)
	}

	if computeHeaderCRC(headerBytes) != h.HeaderCRC32 {
		return Header{}, nil, fmt.Errorf("%w: header CRC mismatch", ErrCorruptHeader)
	}

	if h.EntryCount > h.EntryCapacity {
		return Header{}, nil, fmt.Errorf("%w: entry_count %d exceeds entry_capacity %d", ErrCorruptHeader, h.EntryCount, h.EntryCapacity)
	}

	tableLen := int(h.EntryCapacity) * EntrySize
	if len(tableBytes) < tableLen {
		return Header{}, nil, fmt.Errorf("%w: entry table is %d bytes, want at least %d", ErrCorruptTable, len(tableBytes), tableLen)
	}

	if computeTableCRC(tableBytes[:tableLen]) != h.TableCRC32 {
		return Header{}, nil, fmt.Errorf("%w: entry table CRC mismatch", ErrCorruptTable)
	}

	entries, err := DecodeEntries(tableBytes, h.EntryCount)
	if err != nil {
		return Header{}, nil, err
	}

	return h, entries, nil
}
