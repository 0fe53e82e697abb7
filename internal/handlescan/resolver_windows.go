// Package handlescan implements the handle-name resolver: for every open
// handle reported by the kernel, duplicate it into this process and ask
// NtQueryObject for the name of the object it refers to, then translate
// that kernel path to a drive-letter path and record the process that held
// it as evidence. Grounded on the original's QueryName/GetHandleName, which
// runs the undocumented, occasionally-hanging NtQueryObject call on a
// dedicated worker thread with a 250ms deadline and forcibly terminates and
// relaunches that thread if it doesn't answer in time.
package handlescan

import (
	"sync"
	"time"

	"golang.org/x/sys/windows"

	"github.com/deepglass/deepglass/internal/winsys"
)

// DefaultDeadline is the hard deadline enforced on each name query,
// matching the original scanner's 250ms wait.
const DefaultDeadline = 250 * time.Millisecond

type request struct {
	handle windows.Handle
	result chan<- response
}

type response struct {
	name string
	ok   bool
}

// Resolver runs NtQueryObject calls on a dedicated actor goroutine so a
// hang against one handle can never block the worker pool. Go offers no way
// to forcibly interrupt a goroutine blocked in a syscall the way the
// original terminates its worker thread; instead, a resolver whose actor
// misses the deadline abandons it (the actor goroutine is leaked, still
// blocked forever in the kernel call) and starts a fresh one to serve
// subsequent requests.
type Resolver struct {
	deadline time.Duration

	mu    sync.Mutex
	reqCh chan request
}

// NewResolver creates a Resolver enforcing the given deadline on every
// query.
func NewResolver(deadline time.Duration) *Resolver {
	r := &Resolver{deadline: deadline}
	r.spawn()
	return r
}

func (r *Resolver) spawn() {
	ch := make(chan request)
	r.reqCh = ch
	go actor(ch)
}

func actor(reqCh <-chan request) {
	for req := range reqCh {
		name, err := winsys.QueryObjectName(req.handle)
		req.result <- response{name: name, ok: err == nil}
	}
}

// Resolve duplicates handle (owned by the process identified by pid) into
// this process and asks the actor for its name, returning ("", false) if
// the duplication fails, the query fails, or the deadline is missed.
func (r *Resolver) Resolve(pid uint32, handleValue uintptr) (string, bool) {
	dup, err := winsys.DuplicateFromProcess(pid, handleValue)
	if err != nil {
		return "", false
	}
	defer windows.CloseHandle(dup)

	r.mu.Lock()
	ch := r.reqCh
	r.mu.Unlock()

	resultCh := make(chan response, 1)
	select {
	case ch <- request{handle: dup, result: resultCh}:
	case <-time.After(r.deadline):
		r.respawn(ch)
		return "", false
	}

	select {
	case res := <-resultCh:
		return res.name, res.ok
	case <-time.After(r.deadline):
		r.respawn(ch)
		return "", false
	}
}

// respawn replaces the actor if it's still the one identified by stale, so
// concurrent callers that already timed out against the same stuck actor
// don't each spawn a redundant replacement.
func (r *Resolver) respawn(stale chan request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sameChannel(r.reqCh, stale) {
		r.spawn()
	}
}

func sameChannel(a, b chan request) bool {
	return a == b
}
