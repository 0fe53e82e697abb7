package peimage

import (
	"encoding/binary"
	"testing"
)

// buildRelocatableImage builds a minimal 64-bit PE image with one section
// (RVA 0x1000, 0x2000 bytes) and a base relocation directory containing a
// single DIR64 entry pointing at offset 0x100 within that section's first
// page, with an 8-byte pointer value already written there.
func buildRelocatableImage(t *testing.T, imageBase uint64, pointerValue uint64) []byte {
	t.Helper()

	const ntOffset = 0x80
	const base = ntOffset + 24       // optional header start
	const dirOffset = base + 112     // IMAGE_OPTIONAL_HEADER64 data directory start
	const sectionTableOffset = dirOffset + numberOfDirectoryEntries*sizeOfDataDirectory
	const sectionRaw = 0x1000
	const sectionSize = 0x2000

	total := sectionRaw + sectionSize
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0x3C:0x40], ntOffset)
	binary.LittleEndian.PutUint32(buf[ntOffset:ntOffset+4], 0x00004550)

	fh := buf[ntOffset+4 : ntOffset+24]
	binary.LittleEndian.PutUint16(fh[0:2], machineAMD64)
	binary.LittleEndian.PutUint16(fh[2:4], 1) // one section

	binary.LittleEndian.PutUint16(buf[base:base+2], magicPE32Plus)
	binary.LittleEndian.PutUint64(buf[base+24:base+32], imageBase)

	relocEntry := dirOffset + directoryEntryBaseReloc*sizeOfDataDirectory
	binary.LittleEndian.PutUint32(buf[relocEntry:relocEntry+4], 0x1000) // reloc dir RVA
	binary.LittleEndian.PutUint32(buf[relocEntry+4:relocEntry+8], 10)   // one block, one entry

	row := buf[sectionTableOffset : sectionTableOffset+sizeOfSectionHeader]
	binary.LittleEndian.PutUint32(row[8:12], sectionSize)  // VirtualSize
	binary.LittleEndian.PutUint32(row[12:16], 0x1000)      // VirtualAddress
	binary.LittleEndian.PutUint32(row[16:20], sectionSize) // SizeOfRawData
	binary.LittleEndian.PutUint32(row[20:24], sectionRaw)  // PointerToRawData

	// The relocation block lives at the start of the section: a page RVA,
	// a block size, and one DIR64 entry targeting offset 0x100 in the page.
	block := buf[sectionRaw : sectionRaw+10]
	binary.LittleEndian.PutUint32(block[0:4], 0x1000)
	binary.LittleEndian.PutUint32(block[4:8], 10)
	binary.LittleEndian.PutUint16(block[8:10], (relocDir64<<12)|0x100)

	binary.LittleEndian.PutUint64(buf[sectionRaw+0x100:sectionRaw+0x108], pointerValue)

	return buf
}

func TestSimulateRelocationsAppliesDelta(t *testing.T) {
	const imageBase = 0x140000000
	const loadBase = 0x7FF600000000
	const pointerValue = imageBase + 0x2000

	data := buildRelocatableImage(t, imageBase, pointerValue)

	dos, err := NewDOSHeader(data)
	if err != nil {
		t.Fatalf("NewDOSHeader: %v", err)
	}
	nt, err := NewNTHeaders(data, dos.ELfanew())
	if err != nil {
		t.Fatalf("NewNTHeaders: %v", err)
	}

	if err := SimulateRelocations(data, nt, loadBase); err != nil {
		t.Fatalf("SimulateRelocations: %v", err)
	}

	got := binary.LittleEndian.Uint64(data[0x1100:0x1108])
	want := uint64(pointerValue) + (uint64(loadBase) - uint64(imageBase))
	if got != want {
		t.Fatalf("relocated pointer = %#x, want %#x", got, want)
	}
}

func TestSimulateRelocationsNoopWhenLoadedAtPreferredBase(t *testing.T) {
	const imageBase = 0x140000000
	const pointerValue = imageBase + 0x2000

	data := buildRelocatableImage(t, imageBase, pointerValue)
	dos, _ := NewDOSHeader(data)
	nt, err := NewNTHeaders(data, dos.ELfanew())
	if err != nil {
		t.Fatalf("NewNTHeaders: %v", err)
	}

	if err := SimulateRelocations(data, nt, imageBase); err != nil {
		t.Fatalf("SimulateRelocations: %v", err)
	}

	got := binary.LittleEndian.Uint64(data[0x1100:0x1108])
	if got != uint64(pointerValue) {
		t.Fatalf("pointer changed with zero delta: got %#x, want %#x", got, pointerValue)
	}
}
