package peutil

import "strings"

// fakeLookup is an in-memory pathresolve.Lookup for tests that don't need a
// live filesystem: files is the set of paths (already lower-cased) that
// exist, and searchDirs is consulted, in order, the way %PATH% is.
type fakeLookup struct {
	files      map[string]bool
	searchDirs []string
}

func (f fakeLookup) Exists(path string) bool {
	return f.files[strings.ToLower(path)]
}

func (f fakeLookup) SearchPath(name string) string {
	if strings.ContainsAny(name, `\/`) {
		return ""
	}
	for _, dir := range f.searchDirs {
		candidate := dir + `\` + name
		if f.Exists(candidate) {
			return candidate
		}
	}
	return ""
}

// fakeReader serves fixed byte contents for a fixed set of paths, so tests
// never touch the real filesystem.
type fakeReader map[string][]byte

func (r fakeReader) ReadPrefix(path string, n int) ([]byte, error) {
	data := r[strings.ToLower(path)]
	if len(data) > n {
		data = data[:n]
	}
	return data, nil
}
