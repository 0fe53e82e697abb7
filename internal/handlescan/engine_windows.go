package handlescan

import (
	"strings"
	"sync"
	"time"

	"github.com/deepglass/deepglass/internal/pathresolve"
	"github.com/deepglass/deepglass/internal/peutil"
	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/suspects"
	"github.com/deepglass/deepglass/internal/winsys"
	"github.com/deepglass/deepglass/internal/workerpool"
)

// Engine runs the two handle-name-resolver sweeps: modules loaded into
// every running process, and the system-wide open handle table.
type Engine struct {
	Pool     *workerpool.Pool
	Resolver *Resolver
	Signer   signing.Checker
	Lookup   pathresolve.Lookup
	Reader   peutil.FileReader
}

// NewEngine builds an Engine with a fresh Resolver enforcing deadline on
// every handle-name query.
func NewEngine(pool *workerpool.Pool, signer signing.Checker, lookup pathresolve.Lookup, deadline time.Duration) *Engine {
	return &Engine{
		Pool:     pool,
		Resolver: NewResolver(deadline),
		Signer:   signer,
		Lookup:   lookup,
		Reader:   peutil.OSReader{},
	}
}

// ScanLoadedModules enumerates every running process's loaded modules and
// returns them as a FoundMap keyed by lower-cased module path, each citing
// every process that had it loaded.
func (e *Engine) ScanLoadedModules() *suspects.FoundMap {
	found := suspects.NewFoundMap()

	pids, err := winsys.EnumProcesses()
	if err != nil {
		return found
	}

	for _, pid := range pids {
		pid := pid
		e.Pool.Submit(func() {
			for _, mod := range winsys.EnumModules(pid) {
				ref := suspects.Fold(mod)
				found.Add(ref, suspects.ProcessEvidence(pid, winsys.GetProcessImage(pid)))
			}
		})
	}
	e.Pool.Wait()

	return found
}

// ScanHandleTable enumerates the system handle table, resolves each
// handle's object name through the Resolver, translates it to a drive-letter
// path, and returns a FoundMap keyed by that path, citing every process
// that held it open.
func (e *Engine) ScanHandleTable() *suspects.FoundMap {
	found := suspects.NewFoundMap()

	entries, err := winsys.EnumerateHandles()
	if err != nil {
		return found
	}
	deviceMap, err := winsys.BuildDeviceMap()
	if err != nil {
		return found
	}

	for _, h := range entries {
		h := h
		e.Pool.Submit(func() {
			pid := uint32(h.ProcessID)
			name, ok := e.Resolver.Resolve(pid, uintptr(h.HandleValue))
			if !ok || name == "" {
				return
			}
			drivePath, ok := deviceMap.Translate(name)
			if !ok {
				return
			}
			ref := suspects.Fold(strings.ToLower(drivePath))
			found.Add(ref, suspects.ProcessEvidence(pid, winsys.GetProcessImage(pid)))
		})
	}
	e.Pool.Wait()

	return found
}

// FilterUnsigned narrows found to the paths that both look like a PE image
// and fail the signing check, the input to the Unsigned-Loaded-Modules and
// Unsigned-PE-Handles reports.
func (e *Engine) FilterUnsigned(found *suspects.FoundMap) []suspects.FileReference {
	var (
		mu       sync.Mutex
		unsigned []suspects.FileReference
	)

	for _, ref := range found.Paths() {
		ref := ref
		e.Pool.Submit(func() {
			path := ref.String()
			if !peutil.IsFiletypePE(path, e.Lookup, e.Reader) {
				return
			}
			if e.Signer.IsSigned(path) {
				return
			}
			mu.Lock()
			unsigned = append(unsigned, ref)
			mu.Unlock()
		})
	}
	e.Pool.Wait()

	return unsigned
}

// CrossReferenceSuspects returns every path in found that also appears in
// suspects, the input to the Identified-Open-In-Handles report: files the
// registry extractor or filesystem sweeper already flagged, found open as a
// live handle somewhere on the system.
func CrossReferenceSuspects(found *suspects.FoundMap, suspectSet *suspects.SuspectSet) []suspects.FileReference {
	var hits []suspects.FileReference
	for _, ref := range found.Paths() {
		if suspectSet.Contains(ref) {
			hits = append(hits, ref)
		}
	}
	return hits
}
