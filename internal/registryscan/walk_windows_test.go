package registryscan

import (
	"testing"

	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/suspects"
	"github.com/deepglass/deepglass/internal/workerpool"
)

type fakeLookup struct {
	files map[string]bool
}

func (f fakeLookup) Exists(path string) bool  { return f.files[path] }
func (f fakeLookup) SearchPath(string) string { return "" }

// TestFilterSignedUnsignedReference exercises the "unsigned registry
// reference" scenario: a value citing a path that exists on disk but fails
// the signing check lands in notSigned, not notFound.
func TestFilterSignedUnsignedReference(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Close()

	unsignedPath := `c:\temp\unsigned.exe`
	found := suspects.NewFoundMap()
	found.Add(suspects.Fold(unsignedPath), suspects.RegistryEvidence(`HKCU\Software\DGTest\Startup`, "Startup"))

	e := &Engine{
		Pool:   pool,
		Lookup: fakeLookup{files: map[string]bool{unsignedPath: true}},
		Signer: signing.Func(func(string) bool { return false }),
	}

	notSigned, notFound := e.FilterSigned(found)
	if len(notFound) != 0 {
		t.Fatalf("notFound = %v, want none", notFound)
	}
	if len(notSigned) != 1 || notSigned[0] != suspects.Fold(unsignedPath) {
		t.Fatalf("notSigned = %v, want exactly [%s]", notSigned, suspects.Fold(unsignedPath))
	}
}

// TestFilterSignedMissingReference exercises the "missing reference"
// scenario: a value citing a path that can't be resolved to an existing
// file lands in notFound, and is never reported as notSigned.
func TestFilterSignedMissingReference(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Close()

	missingPath := `c:\does\not\exist.exe`
	found := suspects.NewFoundMap()
	found.Add(suspects.Fold(missingPath), suspects.RegistryEvidence(`HKCU\Software\DGTest\Startup`, "Startup"))

	e := &Engine{
		Pool:   pool,
		Lookup: fakeLookup{files: map[string]bool{}},
		Signer: signing.Func(func(string) bool { return true }),
	}

	notSigned, notFound := e.FilterSigned(found)
	if len(notSigned) != 0 {
		t.Fatalf("notSigned = %v, want none", notSigned)
	}
	if len(notFound) != 1 || notFound[0] != suspects.Fold(missingPath) {
		t.Fatalf("notFound = %v, want exactly [%s]", notFound, suspects.Fold(missingPath))
	}
}
