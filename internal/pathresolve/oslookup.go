package pathresolve

import (
	"os"
	"path/filepath"
	"strings"
)

// OSLookup is the production Lookup backed by the real filesystem and the
// process's %PATH%, plus whatever extra directories a Configuration
// supplies (internal/config.Configuration.ExtraSearchPaths).
type OSLookup struct {
	// ExtraDirs are searched after %PATH%, in order.
	ExtraDirs []string
}

// Exists reports whether path refers to a file (not necessarily readable)
// that os.Stat can see.
func (l OSLookup) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SearchPath implements Lookup.SearchPath against the real %PATH% and any
// configured extra directories.
func (l OSLookup) SearchPath(name string) string {
	if name == "" {
		return ""
	}
	if strings.ContainsAny(name, `\/`) {
		return ""
	}

	for _, dir := range PathDirectories() {
		candidate := filepath.Join(dir, name)
		if l.Exists(candidate) {
			return candidate
		}
	}
	for _, dir := range l.ExtraDirs {
		candidate := filepath.Join(dir, name)
		if l.Exists(candidate) {
			return candidate
		}
	}
	return ""
}

// PathDirectories splits the process's %PATH% environment variable the same
// way the filesystem sweeper's shallow sub-sweep does: split on ';',
// falling back to nothing if %PATH% is unset.
func PathDirectories() []string {
	raw := os.Getenv("PATH")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	dirs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			dirs = append(dirs, p)
		}
	}
	return dirs
}
