// Package peutil implements the "looks like a PE" filters used by the
// registry extractor and filesystem sweeper, grounded on the original C++
// DEEPGLASS-Filtering.cpp logic and expressed as bounds-checked byte-slice
// views rather than raw pointer arithmetic on foreign buffers.
package peutil

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/deepglass/deepglass/internal/pathresolve"
)

const (
	dosMagic       = 0x5A4D // "MZ"
	peSignature    = 0x00004550
	peOffsetField  = 0x3C
	peHeaderWindow = 0x400
)

// IsPEBytes implements the core "looks like a PE" test: the buffer must
// start with the DOS magic "MZ", carry a PE-header offset that itself lands
// within the buffer (the first 0x400 bytes of the file), and have the
// "PE\0\0" signature at that offset.
func IsPEBytes(data []byte) bool {
	if len(data) < peOffsetField+4 {
		return false
	}
	if binary.LittleEndian.Uint16(data[0:2]) != dosMagic {
		return false
	}

	offset := binary.LittleEndian.Uint32(data[peOffsetField : peOffsetField+4])
	if offset+4 > peHeaderWindow || int(offset)+4 > len(data) {
		return false
	}

	return binary.LittleEndian.Uint32(data[offset:offset+4]) == peSignature
}

// FileReader reads a bounded-size prefix of a file. It is an interface so
// this package's logic is testable without a live filesystem.
type FileReader interface {
	ReadPrefix(path string, n int) ([]byte, error)
}

// IsPEFile reports whether path both exists and looks like a PE image: if
// the path exists, read the first 0x400 bytes and apply IsPEBytes. A file
// that doesn't exist, can't be read, or fails the byte test is not a PE.
func IsPEFile(path string, exists func(string) bool, reader FileReader) bool {
	if !exists(path) {
		return false
	}
	data, err := reader.ReadPrefix(path, peHeaderWindow)
	if err != nil {
		return false
	}
	return IsPEBytes(data)
}

// peExtensions is the set of extensions IsFiletypePE trusts without reading
// file contents, when the file can't be found on disk.
var peExtensions = map[string]bool{
	".exe": true,
	".dll": true,
	".ocx": true,
	".sys": true,
}

// IsFiletypePE decides whether filename names a PE image without requiring
// it to exist at the literal path given: if the path exists, defer to
// IsPEFile. Otherwise, if the path is rooted and absolute, decide by
// extension. Otherwise, resolve the bare name via the search path and
// recurse once on the result; a bare name the search path can't find is
// decided by extension (no extension means not a PE).
func IsFiletypePE(filename string, lookup pathresolve.Lookup, reader FileReader) bool {
	if lookup.Exists(filename) {
		return IsPEFile(filename, lookup.Exists, reader)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	rooted := len(filename) >= 2 && filename[1] == ':'

	if !rooted {
		search := lookup.SearchPath(filename)
		if search != "" && search != filename {
			return IsFiletypePE(search, lookup, reader)
		}
	}
	return peExtensions[ext]
}
