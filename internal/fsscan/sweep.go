// Package fsscan implements the filesystem sweeper: a shallow, single-level
// listing of %PATH% plus a fixed set of fallback system directories, and a
// deep, recursive, worker-pool-parallel walk of %SystemRoot%\WinSxS. Grounded
// on the original DEEPGLASS-FilesystemEnum.cpp's CheckPath and
// CheckFolder/CheckWinSxS.
package fsscan

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deepglass/deepglass/internal/logging"
	"github.com/deepglass/deepglass/internal/pathresolve"
	"github.com/deepglass/deepglass/internal/peutil"
	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/suspects"
	"github.com/deepglass/deepglass/internal/workerpool"
)

// fallbackLocations is the fixed set of directories the shallow sweep always
// lists, in addition to every directory on %PATH%. "%SystemRoot%\System32"
// entries are mirrored to "...\SysWOW64" automatically by the original
// scanner whenever %PATH% itself contains a System32 entry; this set
// already carries both, so that isn't needed here.
var fallbackLocations = []string{
	`C:\`,
	`%SystemRoot%`,
	`%SystemRoot%\System`,
	`%SystemRoot%\System32`,
	`%SystemRoot%\System32\Wbem`,
	`%SystemRoot%\System32\WindowsPowerShell\v1.0`,
	`%SystemRoot%\SysWOW64`,
	`%SystemRoot%\SysWOW64\Wbem`,
	`%SystemRoot%\SysWOW64\WindowsPowerShell\v1.0`,
}

// Engine runs the filesystem sweeps against a worker pool, a file-signing
// predicate, and a PE-reading strategy.
type Engine struct {
	Pool   *workerpool.Pool
	Signer signing.Checker
	Reader peutil.FileReader
	Logger *logging.Logger
}

// NewEngine builds an Engine with the production file reader.
func NewEngine(pool *workerpool.Pool, signer signing.Checker) *Engine {
	return &Engine{Pool: pool, Signer: signer, Reader: peutil.OSReader{}}
}

// ShallowSweep lists every file (not subdirectory) directly inside %PATH%'s
// directories and the fixed fallback locations, without recursing. It
// returns the lower-cased paths of files that look like a PE image and
// fail the signing check.
func (e *Engine) ShallowSweep() []suspects.FileReference {
	locations := make(map[string]struct{})
	for _, loc := range fallbackLocations {
		locations[loc] = struct{}{}
	}
	for _, dir := range pathresolve.PathDirectories() {
		locations[dir] = struct{}{}
		lower := strings.ToLower(dir)
		if strings.Contains(lower, "system32") {
			locations[strings.ReplaceAll(lower, "system32", "syswow64")] = struct{}{}
		}
	}

	var unsigned []suspects.FileReference
	var mu sync.Mutex

	for loc := range locations {
		loc := loc
		e.Pool.Submit(func() {
			folder := pathresolve.ExpandEnv(loc)
			e.Logger.Printf("Reading files from %s", folder)
			entries, err := os.ReadDir(folder)
			if err != nil {
				return
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				full := filepath.Join(folder, entry.Name())
				if !peutil.IsPEFile(full, alwaysExists, e.Reader) {
					continue
				}
				if e.Signer.IsSigned(full) {
					continue
				}
				mu.Lock()
				unsigned = append(unsigned, suspects.Fold(full))
				mu.Unlock()
			}
		})
	}
	e.Pool.Wait()

	return unsigned
}

func alwaysExists(string) bool { return true }
