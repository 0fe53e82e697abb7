package pathresolve

import "github.com/bmatcuk/doublestar/v4"

// ExpandSearchPatterns expands a configuration's ExtraSearchPaths entries,
// each of which may be a literal directory or a doublestar glob pattern
// (e.g. "C:\Program Files\*\bin"), into the concrete directories that exist
// right now. A pattern that doesn't parse or matches nothing passes through
// as its env-expanded literal string, as does a plain directory with no glob
// metacharacters whether or not it currently exists, matching OSLookup's
// tolerance of stale entries.
func ExpandSearchPatterns(patterns []string) []string {
	var dirs []string
	for _, pattern := range patterns {
		expanded := ExpandEnv(pattern)
		if !doublestar.ValidatePattern(expanded) {
			dirs = append(dirs, expanded)
			continue
		}
		matches, err := doublestar.FilepathGlob(expanded)
		if err != nil || len(matches) == 0 {
			dirs = append(dirs, expanded)
			continue
		}
		dirs = append(dirs, matches...)
	}
	return dirs
}
