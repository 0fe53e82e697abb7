package peutil

import (
	"regexp"
	"strings"

	"github.com/deepglass/deepglass/internal/pathresolve"
)

// pathLikePattern recognizes a drive-rooted path segment embedded inside a
// larger string value, grounded on the original registry scanner's regex.
var pathLikePattern = regexp.MustCompile(`[A-Za-z]:([\\/]?[A-Za-z0-9().% #'@_\-\^]+)+,?`)

// ValueKind distinguishes the registry value shapes FindReferencedFiles
// knows how to mine for file paths. Binary, DWORD and QWORD values carry no
// path data and are not represented here; callers simply never call
// FindReferencedFiles on them.
type ValueKind int

const (
	// ValueString is a REG_SZ or REG_EXPAND_SZ value: a single string that
	// may itself contain several ';'-separated path-like segments.
	ValueString ValueKind = iota
	// ValueMultiString is a REG_MULTI_SZ value: a list of strings, each
	// processed independently and unioned together.
	ValueMultiString
)

// Value is the minimal view of a registry value FindReferencedFiles needs:
// its kind and its string data.
type Value struct {
	Kind ValueKind
	Str  string
	Strs []string
}

// FindReferencedFiles extracts candidate file paths cited by a registry
// value's data. A REG_MULTI_SZ value is split into its component strings and
// the union of their results is returned. A REG_SZ/REG_EXPAND_SZ value is
// split on ';'; each segment is either matched against a drive-rooted
// path-like pattern, or, failing that, accepted whole if it contains no
// space or looks like it ends in a file extension. filter is applied to each
// surviving candidate (typically IsFiletypePE bound to a Lookup) before it
// is resolved to a concrete path and folded to lower case.
func FindReferencedFiles(value Value, filter func(string) bool, lookup pathresolve.Lookup) []string {
	switch value.Kind {
	case ValueMultiString:
		var files []string
		for _, entry := range value.Strs {
			files = append(files, FindReferencedFiles(Value{Kind: ValueString, Str: entry}, filter, lookup)...)
		}
		return files

	case ValueString:
		var files []string
		for _, segment := range strings.Split(value.Str, ";") {
			if segment == "" {
				continue
			}

			if match := pathLikePattern.FindString(segment); match != "" {
				if strings.HasSuffix(match, ",") {
					continue
				}
				if !filter(match) {
					continue
				}
				files = append(files, resolveOrFold(match, lookup))
				continue
			}

			if !strings.Contains(segment, " ") || looksLikeExtension(segment) {
				if !filter(segment) {
					continue
				}
				files = append(files, resolveOrFold(segment, lookup))
			}
		}
		return files
	}

	return nil
}

// looksLikeExtension reports whether the fourth-from-last character of s is
// a '.', the cheap heuristic the original scanner uses to admit a
// space-containing string that still looks like "name.ext".
func looksLikeExtension(s string) bool {
	return len(s) >= 4 && s[len(s)-4] == '.'
}

// resolveOrFold resolves candidate to a concrete file on disk via lookup,
// falling back to the lower-cased candidate string itself when resolution
// fails, matching CreateFileObject's behavior of never dropping a reference
// just because the file couldn't be confirmed to exist.
func resolveOrFold(candidate string, lookup pathresolve.Lookup) string {
	if resolved, ok := pathresolve.Resolve(candidate, lookup); ok {
		return strings.ToLower(resolved)
	}
	return strings.ToLower(candidate)
}
