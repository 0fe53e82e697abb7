package peimage

import (
	"encoding/binary"
	"errors"
)

const (
	relocDir64   = 10
	relocHighLow = 3
	relocHigh    = 2
	relocLow     = 1
)

// SimulateRelocations applies the base relocation table recorded in a PE
// file's on-disk image to that same image in place, as if the loader had
// mapped it at loadBase instead of its preferred ImageBase. This lets the
// image consistency checker compare a simulated "what the loader should
// have produced" file image against the process's actual mapped memory
// byte-for-byte, rather than tolerating every relocated pointer as a
// difference.
//
// fileImage is mutated in place; callers that need the unmodified bytes
// must pass a copy. A nil error with no mutation means the image has no
// relocation directory (not an error: many images are non-relocatable) or
// loadBase already equals its preferred ImageBase.
func SimulateRelocations(fileImage []byte, nt NTHeaders, loadBase uint64) error {
	imageBase, err := nt.ImageBase()
	if err != nil {
		return err
	}
	delta := loadBase - imageBase

	relocRVA, relocSize, err := nt.DataDirectory(directoryEntryBaseReloc)
	if err != nil {
		return err
	}
	if relocSize == 0 || delta == 0 {
		return nil
	}

	sections, err := nt.Sections()
	if err != nil {
		return err
	}
	converter := BuildRvaConverter(sections)

	relocOffset, ok := converter.ToRawOffset(relocRVA)
	if !ok {
		return errors.New("peimage: relocation directory RVA not covered by any section")
	}

	cursor := uint64(relocOffset)
	end := uint64(relocOffset) + uint64(relocSize)

	for cursor+8 <= end && cursor+8 <= uint64(len(fileImage)) {
		blockRVA := binary.LittleEndian.Uint32(fileImage[cursor : cursor+4])
		blockSize := binary.LittleEndian.Uint32(fileImage[cursor+4 : cursor+8])
		if blockSize == 0 {
			break
		}

		if blockRawOffset, ok := converter.ToRawOffset(blockRVA); ok {
			entryCount := (blockSize - 8) / 2
			for i := uint32(0); i < entryCount; i++ {
				entryPos := cursor + 8 + uint64(i)*2
				if entryPos+2 > uint64(len(fileImage)) {
					break
				}
				entry := binary.LittleEndian.Uint16(fileImage[entryPos : entryPos+2])
				relocType := entry >> 12
				pageOffset := uint32(entry & 0xFFF)
				target := uint64(blockRawOffset) + uint64(pageOffset)

				applyRelocation(fileImage, target, relocType, delta)
			}
		}

		cursor += uint64(blockSize)
	}

	return nil
}

func applyRelocation(image []byte, target uint64, relocType uint16, delta uint64) {
	switch relocType {
	case relocDir64:
		if target+8 > uint64(len(image)) {
			return
		}
		v := binary.LittleEndian.Uint64(image[target : target+8])
		binary.LittleEndian.PutUint64(image[target:target+8], v+delta)
	case relocHighLow:
		if target+4 > uint64(len(image)) {
			return
		}
		v := binary.LittleEndian.Uint32(image[target : target+4])
		binary.LittleEndian.PutUint32(image[target:target+4], v+uint32(delta))
	case relocHigh:
		if target+2 > uint64(len(image)) {
			return
		}
		v := binary.LittleEndian.Uint16(image[target : target+2])
		binary.LittleEndian.PutUint16(image[target:target+2], v+uint16(delta>>16))
	case relocLow:
		if target+2 > uint64(len(image)) {
			return
		}
		v := binary.LittleEndian.Uint16(image[target : target+2])
		binary.LittleEndian.PutUint16(image[target:target+2], v+uint16(delta))
	}
}
