// Package peimage implements the byte-level PE header views and image
// consistency primitives the image consistency checker uses to compare a
// process's mapped image against its on-disk backing file, grounded on the
// original DEEPGLASS-MemoryConsistency.cpp logic and expressed as
// bounds-checked byte-slice accessors rather than raw pointer casts.
package peimage

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned by any header accessor whose backing buffer is
// too short to contain the field being read.
var ErrTruncated = errors.New("peimage: buffer too short for header")

const (
	machineI386  = 0x014c
	machineAMD64 = 0x8664

	magicPE32     = 0x10b
	magicPE32Plus = 0x20b

	sizeOfSectionHeader = 40
	sizeOfDataDirectory = 8

	directoryEntryBaseReloc  = 5
	directoryEntryNetDesc    = 14
	numberOfDirectoryEntries = 16
)

// DOSHeader views the IMAGE_DOS_HEADER fields this scanner needs.
type DOSHeader struct{ data []byte }

// NewDOSHeader wraps data as a DOS header view. data must be at least 0x40
// bytes; no copy is made.
func NewDOSHeader(data []byte) (DOSHeader, error) {
	if len(data) < 0x40 {
		return DOSHeader{}, ErrTruncated
	}
	return DOSHeader{data: data}, nil
}

// ELfanew is the file offset of the NT headers (e_lfanew).
func (h DOSHeader) ELfanew() uint32 {
	return binary.LittleEndian.Uint32(h.data[0x3C:0x40])
}

// NTHeaders views the common prefix of IMAGE_NT_HEADERS32/64 shared by both
// widths: the PE signature, the COFF file header, and enough of the
// optional header to discriminate PE32 from PE32+ and read the fields this
// package needs from either.
type NTHeaders struct {
	data   []byte
	offset uint32
}

// NewNTHeaders wraps data at the given file offset (normally DOSHeader's
// ELfanew) as an NT headers view.
func NewNTHeaders(data []byte, offset uint32) (NTHeaders, error) {
	if uint64(offset)+24 > uint64(len(data)) {
		return NTHeaders{}, ErrTruncated
	}
	sig := binary.LittleEndian.Uint32(data[offset : offset+4])
	if sig != 0x00004550 {
		return NTHeaders{}, errors.New("peimage: missing PE signature")
	}
	return NTHeaders{data: data, offset: offset}, nil
}

func (h NTHeaders) fileHeader() []byte { return h.data[h.offset+4 : h.offset+24] }

// Machine is IMAGE_FILE_HEADER.Machine.
func (h NTHeaders) Machine() uint16 {
	return binary.LittleEndian.Uint16(h.fileHeader()[0:2])
}

// NumberOfSections is IMAGE_FILE_HEADER.NumberOfSections.
func (h NTHeaders) NumberOfSections() uint16 {
	return binary.LittleEndian.Uint16(h.fileHeader()[2:4])
}

// Is64Bit reports whether the optional header magic indicates PE32+. The
// magic, not Machine, decides the optional header's layout everywhere in
// this package.
func (h NTHeaders) Is64Bit() (bool, error) {
	optOffset := h.offset + 24
	if uint64(optOffset)+2 > uint64(len(h.data)) {
		return false, ErrTruncated
	}
	magic := binary.LittleEndian.Uint16(h.data[optOffset : optOffset+2])
	switch magic {
	case magicPE32Plus:
		return true, nil
	case magicPE32:
		return false, nil
	default:
		return false, errors.New("peimage: unrecognized optional header magic")
	}
}

// sizeOfNTHeaders returns sizeof(IMAGE_NT_HEADERS32) or
// sizeof(IMAGE_NT_HEADERS64) depending on the optional header's width,
// i.e. the offset from h.offset to the start of the section table.
func (h NTHeaders) sizeOfNTHeaders() (uint32, error) {
	is64, err := h.Is64Bit()
	if err != nil {
		return 0, err
	}
	if is64 {
		return 24 + 240, nil
	}
	return 24 + 224, nil
}

// ImageBase is the optional header's ImageBase field, used by the
// relocation simulator to compute the delta between the file's preferred
// base and its mapped base, for PE32 and PE32+ images alike.
func (h NTHeaders) ImageBase() (uint64, error) {
	is64, err := h.Is64Bit()
	if err != nil {
		return 0, err
	}
	base := h.offset + 24
	if is64 {
		if uint64(base)+32 > uint64(len(h.data)) {
			return 0, ErrTruncated
		}
		return binary.LittleEndian.Uint64(h.data[base+24 : base+32]), nil
	}
	// PE32's optional header carries an extra 4-byte BaseOfData field that
	// PE32+ drops, pushing ImageBase four bytes later.
	if uint64(base)+32 > uint64(len(h.data)) {
		return 0, ErrTruncated
	}
	return uint64(binary.LittleEndian.Uint32(h.data[base+28 : base+32])), nil
}

// SizeOfImage is the optional header's SizeOfImage field. Its offset from
// the optional header happens to be identical in PE32 and PE32+: PE32's
// extra 4-byte BaseOfData field is exactly offset by ImageBase growing from
// 4 to 8 bytes in PE32+.
func (h NTHeaders) SizeOfImage() (uint32, error) {
	if _, err := h.Is64Bit(); err != nil {
		return 0, err
	}
	fieldOffset := h.offset + 24 + 56
	if uint64(fieldOffset)+4 > uint64(len(h.data)) {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(h.data[fieldOffset : fieldOffset+4]), nil
}

// dataDirectoryOffset returns the file offset of the data directory array.
func (h NTHeaders) dataDirectoryOffset() (uint32, error) {
	is64, err := h.Is64Bit()
	if err != nil {
		return 0, err
	}
	if is64 {
		return h.offset + 24 + 112, nil
	}
	return h.offset + 24 + 96, nil
}

// DataDirectory returns the RVA and size of the given IMAGE_DIRECTORY_ENTRY_*
// index, or an error if index is out of range or the buffer is too short.
func (h NTHeaders) DataDirectory(index int) (rva, size uint32, err error) {
	if index < 0 || index >= numberOfDirectoryEntries {
		return 0, 0, errors.New("peimage: data directory index out of range")
	}
	base, err := h.dataDirectoryOffset()
	if err != nil {
		return 0, 0, err
	}
	entryOffset := uint64(base) + uint64(index)*sizeOfDataDirectory
	if entryOffset+8 > uint64(len(h.data)) {
		return 0, 0, ErrTruncated
	}
	rva = binary.LittleEndian.Uint32(h.data[entryOffset : entryOffset+4])
	size = binary.LittleEndian.Uint32(h.data[entryOffset+4 : entryOffset+8])
	return rva, size, nil
}

// SectionTableOffset returns the file offset of the first
// IMAGE_SECTION_HEADER, immediately following the optional header.
func (h NTHeaders) SectionTableOffset() (uint32, error) {
	size, err := h.sizeOfNTHeaders()
	if err != nil {
		return 0, err
	}
	return h.offset + size, nil
}

// Section is a single IMAGE_SECTION_HEADER view.
type Section struct {
	Characteristics uint32
	VirtualAddress  uint32
	VirtualSize     uint32
	RawOffset       uint32
	RawSize         uint32
}

// Sections reads the NumberOfSections section headers following the
// optional header.
func (h NTHeaders) Sections() ([]Section, error) {
	tableOffset, err := h.SectionTableOffset()
	if err != nil {
		return nil, err
	}
	count := int(h.NumberOfSections())
	out := make([]Section, 0, count)
	for i := 0; i < count; i++ {
		start := uint64(tableOffset) + uint64(i)*sizeOfSectionHeader
		if start+sizeOfSectionHeader > uint64(len(h.data)) {
			return nil, ErrTruncated
		}
		row := h.data[start : start+sizeOfSectionHeader]
		out = append(out, Section{
			Characteristics: binary.LittleEndian.Uint32(row[36:40]),
			VirtualAddress:  binary.LittleEndian.Uint32(row[12:16]),
			VirtualSize:     binary.LittleEndian.Uint32(row[8:12]),
			RawSize:         binary.LittleEndian.Uint32(row[16:20]),
			RawOffset:       binary.LittleEndian.Uint32(row[20:24]),
		})
	}
	return out, nil
}
