// Package pathresolve turns a raw registry- or PATH-derived string (which
// may be a bare filename, an absolute path, a \SystemRoot-relative path, or
// a path containing the "C:\?" long-path artifact) into a concrete file on
// disk. Grounded on the normalization style of pkg/filesystem/normalize.go
// (small sequential rewrite rules, then a filesystem existence check).
package pathresolve

import (
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches a Windows-style %VARIABLE% environment reference.
var envVarPattern = regexp.MustCompile(`%([A-Za-z0-9_()]+)%`)

// ExpandEnv expands every %VARIABLE% reference in s using os.Getenv,
// mirroring Windows' ExpandEnvironmentStringsW semantics closely enough for
// the references this scanner encounters (%SystemRoot%, %PATH%, and
// whatever an adversary-authored registry value happens to reference).
// Unknown variables expand to the empty string; here it differs from
// ExpandEnvironmentStringsW, which leaves such a reference in place.
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		return os.Getenv(name)
	})
}

// normalizeRaw applies an ordered set of rewrite rules: strip/expand the
// synthetic \SystemRoot alias, collapse the "C:\?" long-path artifact,
// expand environment variables, and drop a single leading backslash.
func normalizeRaw(raw string) string {
	expanded := raw

	if len(expanded) >= 11 && strings.EqualFold(expanded[:11], `\SystemRoot`) {
		expanded = "%SYSTEMROOT%" + expanded[11:]
	}

	if len(expanded) >= 4 && strings.EqualFold(expanded[:4], `C:\?`) {
		expanded = expanded[:3] + expanded[4:]
	}

	expanded = ExpandEnv(expanded)

	if len(expanded) > 0 && expanded[0] == '\\' {
		expanded = expanded[1:]
	}

	return expanded
}

// Lookup is the dependency the resolver uses to test for file existence and
// to perform a fallback search-path lookup. It is an interface so that
// pure-logic tests can substitute an in-memory filesystem without requiring
// a live Windows host; the production implementation (OSLookup) is backed by
// os.Stat and the directories in %PATH% plus the configured extra search
// directories.
type Lookup interface {
	// Exists reports whether path refers to an existing file.
	Exists(path string) bool
	// SearchPath returns the full path of the first match for name among
	// %PATH% plus any configured fallback directories, or "" if none
	// contains it. Matching the Windows SearchPath API this resolver models,
	// if name already contains a directory component the search is not
	// performed (a qualified path that doesn't exist stays missing) and ""
	// is returned.
	SearchPath(name string) string
}

// Resolve applies the resolver's rules to raw, returning the concrete path
// of an existing file and true, or ("", false) if no fallback produced one.
func Resolve(raw string, lookup Lookup) (string, bool) {
	candidate := normalizeRaw(raw)

	if lookup.Exists(candidate) {
		return candidate, true
	}

	if dir := lookup.SearchPath(candidate); dir != "" {
		return dir, true
	}

	return "", false
}
