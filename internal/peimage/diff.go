package peimage

// ComputeDifference counts the number of bytes that differ between two
// buffers over the length of the shorter one (bytes past its end are not
// compared), grounded on the original's page-at-a-time memcmp
// short-circuit: whole 0x1000 pages that compare equal are skipped, and
// only pages with at least one differing byte are counted byte-by-byte.
// This is an optimization only; the result is the same as a plain
// byte-by-byte count.
func ComputeDifference(a, b []byte) int {
	size := len(a)
	if len(b) < size {
		size = len(b)
	}

	total := 0
	page := 0
	for ; page+0x1000 <= size; page += 0x1000 {
		chunkA, chunkB := a[page:page+0x1000], b[page:page+0x1000]
		if !bytesEqual(chunkA, chunkB) {
			total += countDifferences(chunkA, chunkB)
		}
	}
	total += countDifferences(a[page:size], b[page:size])
	return total
}

// ComputeNonzero counts the non-zero bytes in buf. CheckExecutableConsistency
// uses it on the part of a page past a section's raw data, which the loader
// leaves zero-filled, so every non-zero byte there counts as a difference.
func ComputeNonzero(buf []byte) int {
	count := 0
	for _, b := range buf {
		if b != 0 {
			count++
		}
	}
	return count
}

func countDifferences(a, b []byte) int {
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
