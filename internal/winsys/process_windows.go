// Package winsys wraps the raw Windows APIs the scanner's engines need and
// that golang.org/x/sys/windows doesn't expose directly: process and module
// enumeration, the undocumented NtQuerySystemInformation/NtQueryObject
// queries the handle-name resolver depends on, and device-path-to-drive-
// letter translation. Grounded on the syscall-wrapping style of
// pkg/filesystem/locking/locker_windows.go and pkg/filesystem/permissions_windows.go
// (golang.org/x/sys/windows.NewLazySystemDLL plus hand-declared argument
// marshaling for APIs the package doesn't wrap).
package winsys

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	psapi = windows.NewLazySystemDLL("psapi.dll")

	procEnumProcesses         = psapi.NewProc("EnumProcesses")
	procEnumProcessModulesEx  = psapi.NewProc("EnumProcessModulesEx")
	procGetModuleFileNameExW  = psapi.NewProc("GetModuleFileNameExW")
)

const listModulesAll = 0x03

// EnumProcesses returns the process IDs of every running process, growing
// its buffer until the kernel reports it had room for everything.
func EnumProcesses() ([]uint32, error) {
	buf := make([]uint32, 1024)
	for {
		var bytesReturned uint32
		ret, _, err := procEnumProcesses.Call(
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)*4),
			uintptr(unsafe.Pointer(&bytesReturned)),
		)
		if ret == 0 {
			return nil, err
		}
		count := int(bytesReturned) / 4
		if count < len(buf) {
			return buf[:count], nil
		}
		buf = make([]uint32, len(buf)*2)
	}
}

// OpenProcess opens pid with the given access mask, matching
// windows.OpenProcess but centralized here alongside the package's other
// process utilities.
func OpenProcess(access uint32, pid uint32) (windows.Handle, error) {
	return windows.OpenProcess(access, false, pid)
}

// EnumModules returns the file paths, as GetModuleFileNameExW reports them
// (not case-folded), of every module loaded into the process identified by
// pid. A process this caller can't open
// (protected, exited, access denied) yields a nil slice, not an error: the
// scanner treats "can't see into this process" as an empty result and moves
// on, matching the original scanner's tolerance for transient process
// churn.
func EnumModules(pid uint32) []string {
	handle, err := OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, pid)
	if err != nil {
		return nil
	}
	defer windows.CloseHandle(handle)

	modules := make([]windows.Handle, 256)
	for {
		var bytesNeeded uint32
		ret, _, _ := procEnumProcessModulesEx.Call(
			uintptr(handle),
			uintptr(unsafe.Pointer(&modules[0])),
			uintptr(len(modules)*int(unsafe.Sizeof(modules[0]))),
			uintptr(unsafe.Pointer(&bytesNeeded)),
			uintptr(listModulesAll),
		)
		if ret == 0 {
			return nil
		}
		count := int(bytesNeeded) / int(unsafe.Sizeof(modules[0]))
		if count <= len(modules) {
			modules = modules[:count]
			break
		}
		modules = make([]windows.Handle, count)
	}

	out := make([]string, 0, len(modules))
	for _, mod := range modules {
		buf := make([]uint16, windows.MAX_PATH)
		n, _, _ := procGetModuleFileNameExW.Call(
			uintptr(handle),
			uintptr(mod),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
		)
		if n == 0 {
			continue
		}
		out = append(out, windows.UTF16ToString(buf[:n]))
	}
	return out
}

// GetProcessImage returns the full image path of the process identified by
// pid, or "" if it can't be queried (exited, access denied). Used to
// annotate report entries with a human-readable process name alongside its
// PID.
func GetProcessImage(pid uint32) string {
	handle, err := OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(handle)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(handle, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}
