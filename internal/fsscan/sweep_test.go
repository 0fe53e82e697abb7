package fsscan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/workerpool"
)

func minimalPEBytes() []byte {
	buf := make([]byte, 0x80)
	buf[0], buf[1] = 'M', 'Z'
	buf[0x3C] = 0x60
	buf[0x60], buf[0x61], buf[0x62], buf[0x63] = 'P', 'E', 0, 0
	return buf
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestShallowSweepFindsUnsignedPEOnPath(t *testing.T) {
	dir := t.TempDir()
	unsignedPath := filepath.Join(dir, "evil.exe")
	signedPath := filepath.Join(dir, "good.exe")
	textPath := filepath.Join(dir, "readme.txt")

	writeFile(t, unsignedPath, minimalPEBytes())
	writeFile(t, signedPath, minimalPEBytes())
	writeFile(t, textPath, []byte("not a pe"))

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir)
	defer os.Setenv("PATH", oldPath)
	oldRoot := os.Getenv("SystemRoot")
	os.Setenv("SystemRoot", filepath.Join(dir, "nonexistent-system-root"))
	defer os.Setenv("SystemRoot", oldRoot)

	pool := workerpool.New(2)
	defer pool.Close()

	signer := signing.Func(func(p string) bool { return p == signedPath })
	engine := NewEngine(pool, signer)

	got := engine.ShallowSweep()
	if len(got) != 1 || string(got[0]) != lower(unsignedPath) {
		t.Fatalf("got %v, want exactly one unsigned reference for %s", got, unsignedPath)
	}
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func TestDeepSweepWinSxSWalksRecursivelyAndReportsUnsigned(t *testing.T) {
	dir := t.TempDir()
	sxs := filepath.Join(dir, "WinSxS")
	nested := filepath.Join(sxs, "x86_foo_1.0.0.0")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	unsignedPath := filepath.Join(nested, "bad.dll")
	writeFile(t, unsignedPath, minimalPEBytes())

	oldRoot := os.Getenv("SystemRoot")
	os.Setenv("SystemRoot", dir)
	defer os.Setenv("SystemRoot", oldRoot)

	pool := workerpool.New(2)
	defer pool.Close()

	signer := signing.Func(func(string) bool { return false })
	engine := NewEngine(pool, signer)

	got := engine.DeepSweepWinSxS()
	if len(got) != 1 || string(got[0]) != lower(unsignedPath) {
		t.Fatalf("got %v, want exactly one unsigned reference for %s", got, unsignedPath)
	}
}
