// Package registryscan implements the registry reference extractor: a
// depth-first, worker-pool-parallel walk of HKEY_LOCAL_MACHINE and
// HKEY_USERS that mines every REG_SZ/REG_EXPAND_SZ/REG_MULTI_SZ value for
// file paths, then checks which of those paths are missing or unsigned.
// Grounded on the original DEEPGLASS-RegistryEnum.cpp's
// EnumerateValuesRecursive and DEEPGLASS-Filtering.cpp's FilterSigned.
package registryscan

import (
	"sync"

	"golang.org/x/sys/windows/registry"

	"github.com/deepglass/deepglass/internal/pathresolve"
	"github.com/deepglass/deepglass/internal/peutil"
	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/suspects"
	"github.com/deepglass/deepglass/internal/workerpool"
)

// Engine runs the registry walk against a worker pool, a path resolver, and
// a file-signing predicate.
type Engine struct {
	Pool   *workerpool.Pool
	Lookup pathresolve.Lookup
	Signer signing.Checker
	Reader peutil.FileReader
}

// NewEngine builds an Engine with the production PE-prefix reader.
func NewEngine(pool *workerpool.Pool, lookup pathresolve.Lookup, signer signing.Checker) *Engine {
	return &Engine{Pool: pool, Lookup: lookup, Signer: signer, Reader: peutil.OSReader{}}
}

type root struct {
	key  registry.Key
	name string
}

var roots = []root{
	{registry.LOCAL_MACHINE, `HKEY_LOCAL_MACHINE`},
	{registry.USERS, `HKEY_USERS`},
}

// visited is the walk's own guarded set of container names already
// descended into, kept separate from the FoundMap's internal locking since
// the two protect unrelated state.
type visited struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newVisited() *visited { return &visited{seen: make(map[string]struct{})} }

func (v *visited) markVisited(name string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[name]; ok {
		return false
	}
	v.seen[name] = struct{}{}
	return true
}

// Scan walks every root hive and returns a FoundMap of extracted file
// references to the registry values that cited them.
func (e *Engine) Scan() *suspects.FoundMap {
	found := suspects.NewFoundMap()
	seen := newVisited()

	for _, r := range roots {
		r := r
		e.Pool.Submit(func() { e.walk(r.key, r.name, "", found, seen) })
	}
	e.Pool.Wait()

	return found
}

func (e *Engine) walk(root registry.Key, rootName, subpath string, found *suspects.FoundMap, seen *visited) {
	fullName := rootName
	if subpath != "" {
		fullName = rootName + `\` + subpath
	}
	if !seen.markVisited(fullName) {
		return
	}

	k, err := registry.OpenKey(root, subpath, registry.READ)
	if err != nil {
		return
	}
	defer k.Close()

	if names, err := k.ReadValueNames(-1); err == nil {
		filter := func(candidate string) bool {
			return peutil.IsFiletypePE(candidate, e.Lookup, e.Reader)
		}
		for _, name := range names {
			value, ok := readValue(k, name)
			if !ok {
				continue
			}
			for _, ref := range peutil.FindReferencedFiles(value, filter, e.Lookup) {
				found.Add(suspects.Fold(ref), suspects.RegistryEvidence(fullName, name))
			}
		}
	}

	subkeys, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return
	}
	for _, name := range subkeys {
		childPath := name
		if subpath != "" {
			childPath = subpath + `\` + name
		}
		e.Pool.Submit(func() { e.walk(root, rootName, childPath, found, seen) })
	}
}

// readValue fetches name's data from k as a peutil.Value, reporting ok=false
// for value kinds FindReferencedFiles has nothing to extract from (binary,
// DWORD, QWORD, and anything GetStringValue/GetStringsValue reject).
func readValue(k registry.Key, name string) (peutil.Value, bool) {
	if s, _, err := k.GetStringValue(name); err == nil {
		return peutil.Value{Kind: peutil.ValueString, Str: s}, true
	}
	if ss, err := k.GetStringsValue(name); err == nil {
		return peutil.Value{Kind: peutil.ValueMultiString, Strs: ss}, true
	}
	return peutil.Value{}, false
}

// FilterSigned resolves every path in found to a concrete file and splits
// it into notSigned (resolved but failed signing) and notFound (couldn't be
// resolved to an existing file at all).
func (e *Engine) FilterSigned(found *suspects.FoundMap) (notSigned, notFound []suspects.FileReference) {
	var mu sync.Mutex

	for _, ref := range found.Paths() {
		ref := ref
		e.Pool.Submit(func() {
			resolved, ok := pathresolve.Resolve(ref.String(), e.Lookup)

			mu.Lock()
			defer mu.Unlock()
			if !ok {
				notFound = append(notFound, ref)
				return
			}
			if !e.Signer.IsSigned(resolved) {
				notSigned = append(notSigned, ref)
			}
		})
	}
	e.Pool.Wait()

	return notSigned, notFound
}
