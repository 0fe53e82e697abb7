package fsscan

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/deepglass/deepglass/internal/pathresolve"
	"github.com/deepglass/deepglass/internal/peutil"
	"github.com/deepglass/deepglass/internal/suspects"
)

// DeepSweepWinSxS recursively walks %SystemRoot%\WinSxS, checking every file
// for a PE signature and signing status. Each subdirectory is submitted back
// to the pool as its own task rather than recursed into synchronously, so
// the walk fans out across every worker instead of running single-threaded;
// this is the worker pool's recursive-submission case (a task discovering
// more tasks and enqueuing them without itself blocking on a free worker).
func (e *Engine) DeepSweepWinSxS() []suspects.FileReference {
	root := filepath.Join(pathresolve.ExpandEnv(`%SystemRoot%`), "WinSxS")

	var mu sync.Mutex
	var unsigned []suspects.FileReference

	var walk func(dir string)
	walk = func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				e.Pool.Submit(func() { walk(full) })
				continue
			}
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
	}

	e.Pool.Submit(func() { walk(root) })
	e.Pool.Wait()

	return unsigned
}
