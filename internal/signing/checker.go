// Package signing abstracts the external "is this file Authenticode
// signed" predicate that the registry extractor's join phase and the
// filesystem sweeper apply to every suspect path before reporting it.
package signing

// Checker reports whether a file on disk carries a valid signature. The
// production checker is implemented with WinVerifyTrust, see
// checker_windows.go; non-Windows builds get checker_other.go, which always
// reports a file unsigned since this scanner is meaningful only on a
// Windows host.
type Checker interface {
	IsSigned(path string) bool
}

// Func adapts a plain function to the Checker interface, used in tests to
// stub the WinVerifyTrust dependency cheaply.
type Func func(path string) bool

// IsSigned calls f.
func (f Func) IsSigned(path string) bool { return f(path) }
