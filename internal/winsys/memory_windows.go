package winsys

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	procVirtualQueryEx           = kernel32.NewProc("VirtualQueryEx")
	procReadProcessMemory        = kernel32.NewProc("ReadProcessMemory")
	procRtlSetCurrentTransaction = ntdll.NewProc("RtlSetCurrentTransaction")

	procGetMappedFileNameW = psapi.NewProc("GetMappedFileNameW")
)

// MemImage marks a VirtualQueryEx region as backed by a mapped image file
// (MEM_IMAGE), the allocation type the image consistency checker cares
// about; data and private mappings are skipped.
const MemImage = 0x1000000

// MemoryRegion is the subset of MEMORY_BASIC_INFORMATION the memory
// consistency checker consults.
type MemoryRegion struct {
	BaseAddress    uintptr
	AllocationBase uintptr
	RegionSize     uintptr
	Type           uint32
	Protect        uint32
}

// ExecutableProtect is the PAGE_EXECUTE* mask: PAGE_EXECUTE, PAGE_EXECUTE_READ,
// PAGE_EXECUTE_READWRITE, and PAGE_EXECUTE_WRITECOPY all set one of the high
// nibble's four bits.
const ExecutableProtect = 0xF0

// VirtualQueryEx queries the memory region containing address in the
// process identified by handle.
func VirtualQueryEx(handle windows.Handle, address uintptr) (MemoryRegion, bool) {
	var info struct {
		BaseAddress       uintptr
		AllocationBase    uintptr
		AllocationProtect uint32
		_                 uint32 // padding on 64-bit
		RegionSize        uintptr
		State             uint32
		Protect           uint32
		Type              uint32
		_                 uint32
	}

	ret, _, _ := procVirtualQueryEx.Call(
		uintptr(handle),
		address,
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ret == 0 {
		return MemoryRegion{}, false
	}

	return MemoryRegion{
		BaseAddress:    info.BaseAddress,
		AllocationBase: info.AllocationBase,
		RegionSize:     info.RegionSize,
		Type:           info.Type,
		Protect:        info.Protect,
	}, true
}

// ReadProcessMemory reads size bytes starting at address from the process
// identified by handle.
func ReadProcessMemory(handle windows.Handle, address uintptr, size uintptr) ([]byte, error) {
	buf := make([]byte, size)
	var read uintptr
	ret, _, err := procReadProcessMemory.Call(
		uintptr(handle),
		address,
		uintptr(unsafe.Pointer(&buf[0])),
		size,
		uintptr(unsafe.Pointer(&read)),
	)
	if ret == 0 {
		return nil, err
	}
	return buf[:read], nil
}

// GetMappedFileName returns the kernel device path of the file mapped at
// address in the process identified by handle, or ok=false if no file is
// mapped there (a private or anonymous allocation).
func GetMappedFileName(handle windows.Handle, address uintptr) (string, bool) {
	buf := make([]uint16, windows.MAX_PATH)
	n, _, _ := procGetMappedFileNameW.Call(
		uintptr(handle),
		address,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if n == 0 {
		return "", false
	}
	return windows.UTF16ToString(buf[:n]), true
}

// ClearCurrentTransaction calls RtlSetCurrentTransaction(nullptr) on the
// calling thread. GetMappedFileName (and the Win32 file APIs generally)
// transparently return the transacted view of a file if the calling thread
// is inside a transaction; since that substitution is exactly the mechanism
// process doppelganging abuses, the mapped-file lookup must first disavow
// any active transaction so it sees the real backing file.
func ClearCurrentTransaction() error {
	ret, _, _ := procRtlSetCurrentTransaction.Call(0)
	if ret != 0 {
		return errors.New("winsys: RtlSetCurrentTransaction failed")
	}
	return nil
}
