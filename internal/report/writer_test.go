package report

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/deepglass/deepglass/internal/peimage"
	"github.com/deepglass/deepglass/internal/suspects"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func TestOpenCreatesAllEightReports(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	names := []string{
		"Registry-Missing-Files.txt",
		"Registry-Unsigned-Files.txt",
		"Path-Unsigned-Files.txt",
		"WinSxS-Unsigned-Files.txt",
		"Unsigned-Loaded-Modules.txt",
		"Unsigned-PE-Handles.txt",
		"Identified-Open-In-Handles.txt",
		"Inconsistent-Images.txt",
	}
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
}

func TestRegistryCitationsWritesCitingValue(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	ref := suspects.Fold(`c:\temp\unsigned.exe`)
	evidence := []suspects.Evidence{suspects.RegistryEvidence(`HKCU\Software\DGTest\Startup`, "Startup")}
	RegistryCitations(w.RegistryUnsigned, ref, "is unsigned", evidence)
	w.Close()

	contents := readFile(t, filepath.Join(dir, "Registry-Unsigned-Files.txt"))
	if !strings.Contains(contents, `c:\temp\unsigned.exe`) {
		t.Errorf("expected report to mention the file path, got: %q", contents)
	}
	if !strings.Contains(contents, `HKCU\Software\DGTest\Startup: Startup`) {
		t.Errorf("expected report to cite the registry value, got: %q", contents)
	}
}

func TestStreamWritesAreSerialized(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			UnsignedSimple(w.PathUnsigned, suspects.Fold(`c:\temp\concurrent.exe`))
		}(i)
	}
	wg.Wait()
	w.Close()

	contents := readFile(t, filepath.Join(dir, "Path-Unsigned-Files.txt"))
	lines := strings.Split(strings.TrimRight(contents, "\n"), "\n")
	if len(lines) != 50 {
		t.Fatalf("got %d lines, want 50 (one per concurrent write, none interleaved or lost)", len(lines))
	}
}

func TestWriteInconsistentImagesGroupsOccurrences(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	w.WriteInconsistentImages([]InconsistentImageGroup{
		{
			Image:       `c:\windows\system32\evil.dll`,
			Verdict:     peimage.Inconsistent,
			Reason:      "executable section byte difference over threshold",
			Occurrences: []string{"PID 100 (explorer.exe): 0x10000-0x15000", "PID 200 (svchost.exe): 0x20000-0x25000"},
		},
	})
	w.Close()

	contents := readFile(t, filepath.Join(dir, "Inconsistent-Images.txt"))
	if !strings.Contains(contents, `c:\windows\system32\evil.dll`) {
		t.Errorf("expected the image path in the report, got: %q", contents)
	}
	if !strings.Contains(contents, "PID 100") || !strings.Contains(contents, "PID 200") {
		t.Errorf("expected both occurrences grouped under the one finding, got: %q", contents)
	}
}
