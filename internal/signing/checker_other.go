//go:build !windows

package signing

// OSChecker is the non-Windows stand-in for the WinVerifyTrust-backed
// checker. It always reports a file unsigned, since the scanner this
// package serves only runs against Windows hosts; it exists so the rest of
// the module builds and tests on a development machine.
type OSChecker struct{}

// IsSigned always returns false.
func (OSChecker) IsSigned(path string) bool { return false }
