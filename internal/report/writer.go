// Package report writes the scanner's eight text output files under a
// results directory, one report per engine finding category. Each stream is
// a single file opened once and serialized by its own mutex, so concurrent
// engines (or a single engine's parallel workers) can write findings as they
// are discovered rather than buffering everything until the run ends.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/deepglass/deepglass/internal/peimage"
	"github.com/deepglass/deepglass/internal/suspects"
)

// Stream is a single output file guarded by its own mutex.
type Stream struct {
	mu   sync.Mutex
	file *os.File
}

func newStream(dir, name string) (*Stream, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	return &Stream{file: f}, nil
}

func (s *Stream) writeln(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.file, format+"\n", args...)
}

func (s *Stream) Close() error { return s.file.Close() }

// Writer owns the eight report streams for a single run.
type Writer struct {
	RegistryMissing      *Stream
	RegistryUnsigned     *Stream
	PathUnsigned         *Stream
	WinSxSUnsigned       *Stream
	UnsignedModules      *Stream
	UnsignedHandles      *Stream
	IdentifiedOpenHandle *Stream
	InconsistentImages   *Stream
}

// Open creates dir (if needed) and opens all eight report files inside it.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w := &Writer{}
	streams := []struct {
		name string
		dst  **Stream
	}{
		{"Registry-Missing-Files.txt", &w.RegistryMissing},
		{"Registry-Unsigned-Files.txt", &w.RegistryUnsigned},
		{"Path-Unsigned-Files.txt", &w.PathUnsigned},
		{"WinSxS-Unsigned-Files.txt", &w.WinSxSUnsigned},
		{"Unsigned-Loaded-Modules.txt", &w.UnsignedModules},
		{"Unsigned-PE-Handles.txt", &w.UnsignedHandles},
		{"Identified-Open-In-Handles.txt", &w.IdentifiedOpenHandle},
		{"Inconsistent-Images.txt", &w.InconsistentImages},
	}
	for _, s := range streams {
		stream, err := newStream(dir, s.name)
		if err != nil {
			w.Close()
			return nil, err
		}
		*s.dst = stream
	}
	return w, nil
}

// Close closes every open stream, returning the first error encountered (if
// any) after attempting to close them all.
func (w *Writer) Close() error {
	var first error
	for _, s := range []*Stream{
		w.RegistryMissing, w.RegistryUnsigned, w.PathUnsigned, w.WinSxSUnsigned,
		w.UnsignedModules, w.UnsignedHandles, w.IdentifiedOpenHandle, w.InconsistentImages,
	} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RegistryCitations writes one entry to stream for ref, citing every
// evidence entry found for it.
func RegistryCitations(stream *Stream, ref suspects.FileReference, verb string, evidence []suspects.Evidence) {
	stream.writeln("File %s %s; referenced by:", ref, verb)
	for _, e := range evidence {
		stream.writeln("\t%s", e)
	}
}

// UnsignedSimple writes a single "file is unsigned" line with no evidence,
// used by the filesystem sweeper's two reports.
func UnsignedSimple(stream *Stream, ref suspects.FileReference) {
	stream.writeln("File %s is unsigned", ref)
}

// UnsignedWithProcesses writes a single "file is unsigned, open in these
// processes" entry followed by one line per citing process, used by the
// handle-name resolver's two reports.
func UnsignedWithProcesses(stream *Stream, ref suspects.FileReference, evidence []suspects.Evidence) {
	stream.writeln("File %s is unsigned. Open in these processes:", ref)
	for _, e := range evidence {
		stream.writeln("\t%s", e)
	}
}

// IdentifiedOpenHandle writes a "previously identified file found as an
// open handle" entry.
func IdentifiedOpenHandle(stream *Stream, ref suspects.FileReference, evidence []suspects.Evidence) {
	stream.writeln("Previously identified file %s found as an open handle in these processes:", ref)
	for _, e := range evidence {
		stream.writeln("\t%s", e)
	}
}

// InconsistentImageGroup is one (image, verdict, reason) bucket of the
// Inconsistent-Images report: every (pid, address range) pair that produced
// this image, verdict and reason combination.
type InconsistentImageGroup struct {
	Image       string
	Verdict     peimage.Verdict
	Reason      string
	Occurrences []string
}

// WriteInconsistentImages writes the Inconsistent-Images report, one entry
// per group (image, verdict and reason) as the original scanner does, rather than one line
// per raw memory region.
func (w *Writer) WriteInconsistentImages(groups []InconsistentImageGroup) {
	for _, g := range groups {
		label := g.Image
		if label == "" {
			label = "Unknown Doppelgang"
		}
		if g.Reason != "" {
			w.InconsistentImages.writeln("%s: %s - %s", label, g.Verdict, g.Reason)
		} else {
			w.InconsistentImages.writeln("%s: %s", label, g.Verdict)
		}
		for _, occ := range g.Occurrences {
			w.InconsistentImages.writeln("\t%s", occ)
		}
	}
}
