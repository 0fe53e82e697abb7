package winsys

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                 = windows.NewLazySystemDLL("kernel32.dll")
	procGetLogicalDriveStrs  = kernel32.NewProc("GetLogicalDriveStringsW")
	procQueryDosDeviceW      = kernel32.NewProc("QueryDosDeviceW")
)

// DeviceMap translates a kernel object path's device prefix (such as
// "\Device\HarddiskVolume3") to the drive letter it's mounted under ("C:"),
// built once per scan and consulted for every resolved handle name.
type DeviceMap struct {
	prefixToDrive map[string]string
}

// BuildDeviceMap enumerates every logical drive and asks QueryDosDeviceW for
// the kernel path it maps to.
func BuildDeviceMap() (*DeviceMap, error) {
	buf := make([]uint16, 512)
	ret, _, err := procGetLogicalDriveStrs.Call(
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&buf[0])),
	)
	if ret == 0 {
		return nil, err
	}

	m := &DeviceMap{prefixToDrive: make(map[string]string)}
	for _, drive := range splitDriveStrings(buf) {
		letter := strings.TrimSuffix(drive, `\`)
		target := make([]uint16, windows.MAX_PATH)
		drivePtr, err := windows.UTF16PtrFromString(letter)
		if err != nil {
			continue
		}
		n, _, _ := procQueryDosDeviceW.Call(
			uintptr(unsafe.Pointer(drivePtr)),
			uintptr(unsafe.Pointer(&target[0])),
			uintptr(len(target)),
		)
		if n == 0 {
			continue
		}
		m.prefixToDrive[windows.UTF16ToString(target[:n])] = letter
	}
	return m, nil
}

// splitDriveStrings parses GetLogicalDriveStringsW's double-null-terminated
// multi-string result into individual drive strings like "C:\".
func splitDriveStrings(buf []uint16) []string {
	var out []string
	start := 0
	for i, c := range buf {
		if c == 0 {
			if i > start {
				out = append(out, windows.UTF16ToString(buf[start:i]))
			}
			start = i + 1
			if i+1 < len(buf) && buf[i+1] == 0 {
				break
			}
		}
	}
	return out
}

// Translate rewrites a kernel object path's device prefix to its drive
// letter, returning ok=false if no known device prefix matches.
func (m *DeviceMap) Translate(kernelPath string) (string, bool) {
	for prefix, drive := range m.prefixToDrive {
		if strings.HasPrefix(kernelPath, prefix) {
			return drive + kernelPath[len(prefix):], true
		}
	}
	return "", false
}
