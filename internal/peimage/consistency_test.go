package peimage

import "testing"

func TestCheckExecutableConsistencyBelowThreshold(t *testing.T) {
	file := make([]byte, 0x3000)
	mem := make([]byte, 0x3000)
	mem[0x1005] = 0xFF // single differing byte inside the section

	sections := []Section{
		{Characteristics: 0x20000000, VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x1000, RawSize: 0x1000},
	}
	regions := []ExecRegion{{Offset: 0x1000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Consistent {
		t.Fatalf("Verdict = %v, want Consistent (1 differing byte is under threshold)", result.Verdict)
	}
}

func TestCheckExecutableConsistencyAboveThreshold(t *testing.T) {
	file := make([]byte, 0x3000)
	mem := make([]byte, 0x3000)
	for i := 0x1000; i < 0x1000+ExecutableThreshold+1; i++ {
		mem[i] = 0xFF
	}

	sections := []Section{
		{Characteristics: 0x20000000, VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x1000, RawSize: 0x1000},
	}
	regions := []ExecRegion{{Offset: 0x1000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Inconsistent {
		t.Fatalf("Verdict = %v, want Inconsistent (threshold exceeded)", result.Verdict)
	}
}

// TestCheckExecutableConsistencyExactlyAtThresholdIsConsistent exercises the
// strict-greater-than boundary: a difference count equal to (not exceeding)
// threshold must still be Consistent.
func TestCheckExecutableConsistencyExactlyAtThresholdIsConsistent(t *testing.T) {
	file := make([]byte, 0x3000)
	mem := make([]byte, 0x3000)
	for i := 0x1000; i < 0x1000+ExecutableThreshold; i++ {
		mem[i] = 0xFF
	}

	sections := []Section{
		{Characteristics: 0x20000000, VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x1000, RawSize: 0x1000},
	}
	regions := []ExecRegion{{Offset: 0x1000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Consistent {
		t.Fatalf("Verdict = %v, want Consistent (diff == threshold is not over it)", result.Verdict)
	}
}

func TestCheckExecutableConsistencyIgnoresNonExecutableRegions(t *testing.T) {
	file := make([]byte, 0x3000)
	mem := make([]byte, 0x3000)
	for i := 0x2000; i < 0x3000; i++ {
		mem[i] = 0xFF // fully diverges, but the covering region isn't executable
	}

	sections := []Section{
		{Characteristics: 0x40000040, VirtualAddress: 0x2000, VirtualSize: 0x1000, RawOffset: 0x2000, RawSize: 0x1000},
	}
	regions := []ExecRegion{{Offset: 0x2000, Size: 0x1000, Executable: false}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Consistent {
		t.Fatalf("Verdict = %v, want Consistent (non-executable region differences don't count)", result.Verdict)
	}
}

// TestCheckExecutableConsistencyUsesRawOffsetNotVirtualAddress exercises a
// section whose file layout and memory layout diverge, the normal case for a
// real PE: RawOffset != VirtualAddress. A correct implementation compares
// file bytes at RawOffset against mapped bytes at VirtualAddress; comparing
// the file buffer at VirtualAddress instead would read unrelated bytes and
// misreport a difference.
func TestCheckExecutableConsistencyUsesRawOffsetNotVirtualAddress(t *testing.T) {
	file := make([]byte, 0x4000)
	mem := make([]byte, 0x4000)

	// Section's raw data lives at file offset 0x400 but maps to RVA 0x2000.
	for i := 0; i < 0x200; i++ {
		file[0x400+i] = byte(i)
		mem[0x2000+i] = byte(i)
	}

	sections := []Section{
		{Characteristics: 0x20000000, VirtualAddress: 0x2000, VirtualSize: 0x1000, RawOffset: 0x400, RawSize: 0x1000},
	}
	regions := []ExecRegion{{Offset: 0x2000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Consistent {
		t.Fatalf("Verdict = %+v, want Consistent (identical content at the correct raw/virtual offsets)", result)
	}
}

// TestCheckExecutableConsistencyDetectsZeroPaddedTailPatch exercises the part
// of a section's final page beyond SizeOfRawData: the file has no data
// there, so it should read as zero on disk, but a patch placed in that
// mapped memory must still be counted as a difference.
func TestCheckExecutableConsistencyDetectsZeroPaddedTailPatch(t *testing.T) {
	file := make([]byte, 0x2000)
	mem := make([]byte, 0x2000)
	mem[0x1800] = 0x90 // planted in the zero-padded tail beyond RawSize

	sections := []Section{
		// RawSize ends mid-page: only the first 0x800 bytes of the page are
		// backed by the file, the rest is zero padding.
		{Characteristics: 0x20000000, VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x1000, RawSize: 0x800},
	}
	regions := []ExecRegion{{Offset: 0x1000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, 0)
	if result.Verdict != Inconsistent {
		t.Fatalf("Verdict = %+v, want Inconsistent (non-zero byte in the padded tail)", result)
	}
}

// TestCheckExecutableConsistencyExecutableMemoryOutsideSection exercises
// executable mapped memory whose RVA isn't covered by any section's raw
// data at all.
func TestCheckExecutableConsistencyExecutableMemoryOutsideSection(t *testing.T) {
	file := make([]byte, 0x3000)
	mem := make([]byte, 0x3000)

	sections := []Section{
		{Characteristics: 0x20000000, VirtualAddress: 0x1000, VirtualSize: 0x1000, RawOffset: 0x1000, RawSize: 0x1000},
	}
	// This executable region sits at RVA 0x2000, past the one declared section.
	regions := []ExecRegion{{Offset: 0x2000, Size: 0x1000, Executable: true}}

	result := CheckExecutableConsistency(file, mem, sections, regions, ExecutableThreshold)
	if result.Verdict != Inconsistent || result.Reason != "executable memory not in a section" {
		t.Fatalf("result = %+v, want Inconsistent/executable memory not in a section", result)
	}
}

func TestCheckSectionCoherencyDOSHeaderMismatch(t *testing.T) {
	file := make([]byte, 0x40)
	mem := make([]byte, 0x40)
	mem[0] = 'X'

	result := CheckSectionCoherency(file, mem, 0)
	if result.Verdict != Inconsistent || result.Reason != "DOS header mismatch" {
		t.Fatalf("result = %+v, want Inconsistent/DOS header mismatch", result)
	}
}
