package peimage

import "testing"

func TestComputeDifferenceIdentical(t *testing.T) {
	a := make([]byte, 0x3000)
	b := make([]byte, 0x3000)
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(i)
	}
	if got := ComputeDifference(a, b); got != 0 {
		t.Fatalf("ComputeDifference = %d, want 0", got)
	}
}

func TestComputeDifferenceCountsAcrossPageBoundary(t *testing.T) {
	a := make([]byte, 0x2000)
	b := make([]byte, 0x2000)
	a[0x0FFF] = 1 // last byte of first page
	a[0x1000] = 1 // first byte of second page
	a[0x1FFF] = 1 // last byte of second page

	if got := ComputeDifference(a, b); got != 3 {
		t.Fatalf("ComputeDifference = %d, want 3", got)
	}
}

func TestComputeDifferenceTruncatesToShorterBuffer(t *testing.T) {
	a := make([]byte, 0x1010)
	b := make([]byte, 0x1000)
	a[0x1005] = 1 // beyond b's length, must not be counted or panic

	if got := ComputeDifference(a, b); got != 0 {
		t.Fatalf("ComputeDifference = %d, want 0", got)
	}
}

func TestComputeNonzero(t *testing.T) {
	buf := []byte{0, 0, 1, 0, 2, 0, 3}
	if got := ComputeNonzero(buf); got != 3 {
		t.Fatalf("ComputeNonzero = %d, want 3", got)
	}
}
