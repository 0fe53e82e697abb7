package peimage

import "bytes"

// Verdict classifies the outcome of comparing a mapped image against its
// on-disk backing file.
type Verdict int

const (
	// Consistent means the mapped image matches what the loader would have
	// produced from the backing file, within the configured byte threshold.
	Consistent Verdict = iota
	// Inconsistent means the mapped image's headers or executable sections
	// diverge from the backing file in a way relocations don't explain.
	Inconsistent
	// BadMap means the region's backing file couldn't be identified or read
	// (potential doppelganging), or the backing file isn't a PE while the
	// mapped memory is (potential herpaderping).
	BadMap
	// NotPE means the backing file (or the mapped region) doesn't look like
	// a PE image.
	NotPE
	// CheckError means the check itself failed (unreadable process memory,
	// malformed headers) rather than producing a verdict about the image.
	CheckError
)

func (v Verdict) String() string {
	switch v {
	case Consistent:
		return "Consistent"
	case Inconsistent:
		return "Inconsistent With File"
	case BadMap:
		return "Bad Map"
	case NotPE:
		return "Mapped File Not a PE"
	case CheckError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Result pairs a Verdict with the human-readable reason CheckSectionCoherency
// or CheckExecutableConsistency arrived at it, for the report writer.
type Result struct {
	Verdict Verdict
	Reason  string
}

func inconsistent(reason string) Result { return Result{Verdict: Inconsistent, Reason: reason} }

// CheckSectionCoherency compares fileImage (the on-disk backing file, read
// into memory) against memImage (the process's mapped region, of memSize
// bytes) at the header level: the DOS header must match exactly, section
// count and machine type must match, SizeOfImage must match the mapped
// region's actual size (read with the file-side magic), the data
// directories must match exactly, and each
// section header must match except that PointerToRawData may differ for a
// section with no raw data (such sections have nothing on disk to diverge
// from).
func CheckSectionCoherency(fileImage, memImage []byte, memSize uint64) Result {
	if len(fileImage) < 0x40 || len(memImage) < 0x40 {
		return Result{Verdict: CheckError, Reason: "image too small for a DOS header"}
	}
	if !bytes.Equal(fileImage[:0x40], memImage[:0x40]) {
		return inconsistent("DOS header mismatch")
	}

	dos, err := NewDOSHeader(fileImage)
	if err != nil {
		return Result{Verdict: CheckError, Reason: err.Error()}
	}
	lfanew := dos.ELfanew()

	fileNT, err := NewNTHeaders(fileImage, lfanew)
	if err != nil {
		return Result{Verdict: NotPE, Reason: "backing file is not a PE image"}
	}
	memNT, err := NewNTHeaders(memImage, lfanew)
	if err != nil {
		return Result{Verdict: NotPE, Reason: "mapped region is not a PE image"}
	}

	if fileNT.NumberOfSections() != memNT.NumberOfSections() {
		return inconsistent("section count mismatch")
	}
	if fileNT.Machine() != memNT.Machine() {
		return inconsistent("architecture mismatch")
	}

	sizeOfImage, err := fileNT.SizeOfImage()
	if err != nil {
		return Result{Verdict: CheckError, Reason: err.Error()}
	}
	if uint64(sizeOfImage) != memSize {
		return inconsistent("image size mismatch")
	}

	dirOffset, err := fileNT.dataDirectoryOffset()
	if err != nil {
		return Result{Verdict: CheckError, Reason: err.Error()}
	}
	// A non-empty .NET descriptor directory means the mapped optional header
	// may carry a different magic than the file's, so the memory-side data
	// directory is then located from the memory-side magic.
	memDirOffset := dirOffset
	if _, netSize, err := fileNT.DataDirectory(directoryEntryNetDesc); err == nil && netSize != 0 {
		if memDirOffset, err = memNT.dataDirectoryOffset(); err != nil {
			return Result{Verdict: CheckError, Reason: err.Error()}
		}
	}
	dirBytes := numberOfDirectoryEntries * sizeOfDataDirectory
	if uint64(dirOffset)+uint64(dirBytes) > uint64(len(fileImage)) || uint64(memDirOffset)+uint64(dirBytes) > uint64(len(memImage)) {
		return Result{Verdict: CheckError, Reason: "data directory extends past image"}
	}
	if !bytes.Equal(fileImage[dirOffset:uint64(dirOffset)+uint64(dirBytes)], memImage[memDirOffset:uint64(memDirOffset)+uint64(dirBytes)]) {
		return inconsistent("data directory mismatch")
	}

	fileSections, err := fileNT.Sections()
	if err != nil {
		return Result{Verdict: CheckError, Reason: err.Error()}
	}
	memSections, err := memNT.Sections()
	if err != nil {
		return Result{Verdict: CheckError, Reason: err.Error()}
	}

	for i := range fileSections {
		f, m := fileSections[i], memSections[i]
		acceptable := m.Characteristics == f.Characteristics &&
			m.VirtualAddress == f.VirtualAddress &&
			m.RawSize == f.RawSize &&
			m.VirtualSize == f.VirtualSize &&
			(m.RawOffset == f.RawOffset || f.RawSize == 0)
		if !acceptable {
			return inconsistent("section header mismatch")
		}
	}

	return Result{Verdict: Consistent}
}

// ExecutableThreshold is the default maximum number of differing bytes a
// mapped image's executable sections may carry before it is reported
// Inconsistent. Overridable via configuration.
const ExecutableThreshold = 0x500

// pageSize is the granularity CheckExecutableConsistency walks memory
// regions and section raw data at, matching the original's per-page
// memcmp short-circuit and per-page protection-flag walk.
const pageSize = 0x1000

// ExecRegion is a single contiguous memory region within a mapped image, as
// VirtualQueryEx reports it, with its offset expressed relative to the
// image's base address (i.e. as an RVA) rather than as an absolute address.
type ExecRegion struct {
	Offset     uint64
	Size       uint64
	Executable bool
}

// CheckExecutableConsistency walks every executable memory region
// page-by-page, maps each page's RVA to the PE section whose raw data backs
// it, and compares that page's mapped bytes against the file's bytes at the
// section's corresponding raw file offset. The part of a section's last
// page beyond its SizeOfRawData (that section's zero-padded tail) is checked
// for non-zero bytes instead, so a payload hidden there still counts as a
// difference. A page that maps to no section's raw data at all (including
// whole pages past SizeOfRawData) means executable memory exists outside
// any section the file declares, reported immediately as Inconsistent. The
// total differing-byte count across every page must exceed (not merely
// reach) threshold before the image as a whole is reported Inconsistent.
func CheckExecutableConsistency(fileImage, memImage []byte, sections []Section, regions []ExecRegion, threshold int) Result {
	converter := BuildRvaConverter(sections)

	diff := 0
	for _, region := range regions {
		if !region.Executable {
			continue
		}
		for pageOffset := uint64(0); pageOffset < region.Size; pageOffset += pageSize {
			rva := region.Offset + pageOffset

			section, ok := converter.Lookup(uint32(rva))
			if !ok {
				return inconsistent("executable memory not in a section")
			}
			rawOffset, _ := converter.ToRawOffset(uint32(rva))

			sectionOffset := rva - uint64(section.VirtualAddress)
			inSection := uint64(pageSize)
			if remaining := uint64(section.RawSize) - sectionOffset; remaining < inSection {
				inSection = remaining
			}
			leftover := pageSize - inSection

			diff += compareRange(fileImage, memImage, uint64(rawOffset), rva, inSection)
			diff += nonzeroRange(memImage, rva+inSection, leftover)
		}
	}

	if diff > threshold {
		return inconsistent("executable section byte difference over threshold")
	}
	return Result{Verdict: Consistent}
}

// compareRange counts differing bytes between fileImage[fileOffset:] and
// memImage[memOffset:] over n bytes, clamped to whichever buffer is
// shorter; bytes past either buffer's end are treated as absent rather than
// compared.
func compareRange(fileImage, memImage []byte, fileOffset, memOffset, n uint64) int {
	fileSlice := sliceFrom(fileImage, fileOffset, n)
	memSlice := sliceFrom(memImage, memOffset, n)
	return ComputeDifference(fileSlice, memSlice)
}

// nonzeroRange counts non-zero bytes in memImage[offset : offset+n], clamped
// to the buffer's actual length.
func nonzeroRange(memImage []byte, offset, n uint64) int {
	return ComputeNonzero(sliceFrom(memImage, offset, n))
}

// sliceFrom returns buf[offset : offset+n], clamped so it never runs past
// len(buf); offset beyond len(buf) yields an empty slice.
func sliceFrom(buf []byte, offset, n uint64) []byte {
	if offset >= uint64(len(buf)) {
		return nil
	}
	end := offset + n
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	return buf[offset:end]
}
