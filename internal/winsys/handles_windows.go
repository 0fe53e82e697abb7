package winsys

import (
	"encoding/binary"
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	ntdll = windows.NewLazySystemDLL("ntdll.dll")

	procNtQuerySystemInformation = ntdll.NewProc("NtQuerySystemInformation")
	procNtQueryObject            = ntdll.NewProc("NtQueryObject")
)

const (
	systemHandleInformation = 0x10
	objectNameInformation   = 1

	statusInfoLengthMismatch = 0xC0000004
	statusSuccess            = 0
)

// handleInfoSize is sizeof(SYSTEM_HANDLE_TABLE_ENTRY_INFO) on 64-bit
// Windows: two USHORTs, two UCHARs, a USHORT, then an 8-byte-aligned PVOID
// and a trailing ULONG.
const handleInfoSize = 24

// HandleEntry is a single handle reported by NtQuerySystemInformation's
// SystemHandleInformation class.
type HandleEntry struct {
	ProcessID   uint16
	HandleValue uint16
}

// EnumerateHandles returns every open handle on the system, growing its
// query buffer until NtQuerySystemInformation stops reporting
// STATUS_INFO_LENGTH_MISMATCH.
func EnumerateHandles() ([]HandleEntry, error) {
	buf := make([]byte, 0x10000)
	for {
		var returned uint32
		status, _, _ := procNtQuerySystemInformation.Call(
			systemHandleInformation,
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
			uintptr(unsafe.Pointer(&returned)),
		)
		if uint32(status) == statusInfoLengthMismatch {
			buf = make([]byte, int(returned)+0x1000)
			continue
		}
		if uint32(status) != statusSuccess {
			return nil, errors.New("winsys: NtQuerySystemInformation failed")
		}
		break
	}

	if len(buf) < 8 {
		return nil, errors.New("winsys: handle information buffer too short")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	entries := make([]HandleEntry, 0, count)
	base := 8
	for i := uint32(0); i < count; i++ {
		offset := base + int(i)*handleInfoSize
		if offset+8 > len(buf) {
			break
		}
		entries = append(entries, HandleEntry{
			ProcessID:   binary.LittleEndian.Uint16(buf[offset : offset+2]),
			HandleValue: binary.LittleEndian.Uint16(buf[offset+6 : offset+8]),
		})
	}
	return entries, nil
}

// QueryObjectName calls NtQueryObject(handle, ObjectNameInformation, ...),
// growing its buffer as instructed, and returns the UNICODE_STRING payload's
// text. The caller is responsible for bounding how long it waits: this
// undocumented query is known to hang indefinitely against certain handle
// types (named pipes mid-operation, some device objects), which is why
// handlescan.Resolver only calls it from a dedicated actor goroutine and
// never on the goroutine that asked for the name.
func QueryObjectName(handle windows.Handle) (string, error) {
	buf := make([]byte, 0x400)
	for {
		var returned uint32
		status, _, _ := procNtQueryObject.Call(
			uintptr(handle),
			objectNameInformation,
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(len(buf)),
			uintptr(unsafe.Pointer(&returned)),
		)
		if uint32(status) == statusInfoLengthMismatch {
			buf = make([]byte, int(returned)+0x100)
			continue
		}
		if uint32(status) != statusSuccess {
			return "", errors.New("winsys: NtQueryObject failed")
		}
		break
	}

	// UNICODE_STRING: USHORT Length, USHORT MaximumLength, PWSTR Buffer
	// (8-byte aligned on 64-bit, so Buffer sits at offset 8).
	if len(buf) < 16 {
		return "", nil
	}
	length := binary.LittleEndian.Uint16(buf[0:2])
	bufferPtr := *(*uintptr)(unsafe.Pointer(&buf[8]))
	if bufferPtr == 0 || length == 0 {
		return "", nil
	}

	chars := length / 2
	out := make([]uint16, chars)
	src := unsafe.Slice((*uint16)(unsafe.Pointer(bufferPtr)), chars)
	copy(out, src)
	return windows.UTF16ToString(out), nil
}

// DuplicateFromProcess duplicates handle (valid in the process identified by
// pid) into the calling process, for safe querying.
func DuplicateFromProcess(pid uint32, handle uintptr) (windows.Handle, error) {
	source, err := OpenProcess(windows.PROCESS_DUP_HANDLE, pid)
	if err != nil {
		return 0, err
	}
	defer windows.CloseHandle(source)

	var dup windows.Handle
	self := windows.CurrentProcess()
	err = windows.DuplicateHandle(source, windows.Handle(handle), self, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS)
	if err != nil {
		return 0, err
	}
	return dup, nil
}
