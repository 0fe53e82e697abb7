// Package imagecheck implements the image consistency checker: for every
// mapped-image region in every process's address space, compare the mapped
// bytes against a relocation-simulated copy of the backing file, looking
// for process doppelganging (no backing file can be found), herpaderping
// (the backing file isn't a PE but the mapped memory is), and in-memory
// patching (the mapped executable sections diverge from the file by more
// than the configured threshold). Grounded on the original
// DEEPGLASS-MemoryConsistency.cpp's CheckMappedConsistency,
// CheckProcessMemoryConsistency, and RunConsistencyChecks.
package imagecheck

import (
	"os"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/deepglass/deepglass/internal/logging"
	"github.com/deepglass/deepglass/internal/peimage"
	"github.com/deepglass/deepglass/internal/peutil"
	"github.com/deepglass/deepglass/internal/winsys"
	"github.com/deepglass/deepglass/internal/workerpool"
)

// ImageResult pairs a single mapped-image region's Result with enough
// context to report it: the process it was found in, the region's address
// range, and the image path (if one could be determined).
type ImageResult struct {
	PID          uint32
	ProcessImage string
	BaseAddress  uintptr
	Size         uintptr
	MappedImage  string
	Result       peimage.Result
}

// Engine runs the consistency checks against a worker pool and a device
// map used to translate the kernel device paths VirtualQueryEx/
// GetMappedFileName report into drive-letter paths.
type Engine struct {
	Pool      *workerpool.Pool
	Devices   *winsys.DeviceMap
	Threshold int
	Logger    *logging.Logger
}

// NewEngine builds an Engine with a fresh DeviceMap.
func NewEngine(pool *workerpool.Pool, threshold int) (*Engine, error) {
	devices, err := winsys.BuildDeviceMap()
	if err != nil {
		return nil, err
	}
	return &Engine{Pool: pool, Devices: devices, Threshold: threshold}, nil
}

// CheckMappedConsistency compares the mapped region [baseAddress,
// baseAddress+size) in process (running as pid) against its backing file.
func (e *Engine) CheckMappedConsistency(pid uint32, process windows.Handle, baseAddress, size uintptr) (peimage.Result, string) {
	if _, err := winsys.ReadProcessMemory(process, baseAddress, 1); err != nil {
		return peimage.Result{Verdict: peimage.CheckError, Reason: "unable to read memory"}, ""
	}

	// Disavow any active transaction before resolving the mapped file: a
	// transacted view here is exactly what process doppelganging exploits.
	winsys.ClearCurrentTransaction()

	devicePath, ok := winsys.GetMappedFileName(process, baseAddress)
	if !ok {
		return peimage.Result{Verdict: peimage.BadMap, Reason: "potential doppelganging"}, ""
	}
	drivePath, ok := e.Devices.Translate(devicePath)
	if !ok {
		drivePath = devicePath
	}
	drivePath = strings.ToLower(drivePath)

	memBytes, err := winsys.ReadProcessMemory(process, baseAddress, size)
	if err != nil {
		return peimage.Result{Verdict: peimage.CheckError, Reason: "unable to read memory"}, drivePath
	}

	fileBytes, err := os.ReadFile(drivePath)
	if err != nil {
		return peimage.Result{Verdict: peimage.BadMap, Reason: "potential doppelganging"}, drivePath
	}

	if !peutil.IsPEBytes(fileBytes) {
		if peutil.IsPEBytes(memBytes) {
			return peimage.Result{Verdict: peimage.BadMap, Reason: "potential herpaderping"}, drivePath
		}
		return peimage.Result{Verdict: peimage.NotPE}, drivePath
	}

	// Walk every sub-region within [baseAddress, baseAddress+size), confirming
	// each is actually readable (a failure here means the mapping changed
	// underneath us) and recording its offset, size, and executable
	// protection for CheckExecutableConsistency's page walk.
	var regions []peimage.ExecRegion
	for cursor := baseAddress; cursor < baseAddress+size; {
		region, ok := winsys.VirtualQueryEx(process, cursor)
		if !ok {
			return peimage.Result{Verdict: peimage.CheckError, Reason: "unable to scan memory protections"}, drivePath
		}
		if region.RegionSize == 0 {
			break
		}
		regions = append(regions, peimage.ExecRegion{
			Offset:     uint64(cursor - baseAddress),
			Size:       uint64(region.RegionSize),
			Executable: region.Protect&winsys.ExecutableProtect != 0,
		})
		cursor += region.RegionSize
	}

	dos, err := peimage.NewDOSHeader(fileBytes)
	if err != nil {
		return peimage.Result{Verdict: peimage.NotPE}, drivePath
	}
	nt, err := peimage.NewNTHeaders(fileBytes, dos.ELfanew())
	if err != nil {
		return peimage.Result{Verdict: peimage.NotPE}, drivePath
	}

	coherency := peimage.CheckSectionCoherency(fileBytes, memBytes, uint64(size))
	if coherency.Verdict != peimage.Consistent {
		return coherency, drivePath
	}

	simulated := make([]byte, len(fileBytes))
	copy(simulated, fileBytes)
	// A relocation-simulation failure isn't fatal: it just means some
	// pointer-bearing bytes will register as differences below instead of
	// being correctly excluded.
	if err := peimage.SimulateRelocations(simulated, nt, uint64(baseAddress)); err != nil {
		e.Logger.Warnf("relocation simulation failed for %s at 0x%x in PID %d: %v", drivePath, baseAddress, pid, err)
	}

	sections, err := nt.Sections()
	if err != nil {
		return peimage.Result{Verdict: peimage.CheckError, Reason: err.Error()}, drivePath
	}

	return peimage.CheckExecutableConsistency(simulated, memBytes, sections, regions, e.Threshold), drivePath
}

// CheckProcessMemoryConsistency walks the usermode virtual address space of
// process, grouping contiguous MEM_IMAGE allocations into regions and
// checking each one once it ends.
func (e *Engine) CheckProcessMemoryConsistency(pid uint32, process windows.Handle) []ImageResult {
	var results []ImageResult

	var regionBase uintptr
	inRegion := false

	const usermodeLimit = uintptr(1) << 48
	for base := uintptr(0); base < usermodeLimit; {
		region, ok := winsys.VirtualQueryEx(process, base)
		if !ok {
			break
		}
		if region.RegionSize == 0 {
			break
		}

		if inRegion && region.AllocationBase != regionBase {
			size := region.BaseAddress - regionBase
			result, image := e.CheckMappedConsistency(pid, process, regionBase, size)
			results = append(results, ImageResult{
				PID:          pid,
				ProcessImage: winsys.GetProcessImage(pid),
				BaseAddress:  regionBase,
				Size:         size,
				MappedImage:  image,
				Result:       result,
			})
			inRegion = false
		}

		if !inRegion && region.Type == winsys.MemImage {
			regionBase = region.AllocationBase
			inRegion = true
		}

		base += region.RegionSize
	}

	return results
}

// RunConsistencyChecks enumerates every process on the system and checks
// each one's memory consistency in parallel.
func (e *Engine) RunConsistencyChecks() []ImageResult {
	pids, err := winsys.EnumProcesses()
	if err != nil {
		return nil
	}

	futures := make([]*workerpool.Future[[]ImageResult], 0, len(pids))
	for _, pid := range pids {
		pid := pid
		futures = append(futures, workerpool.SubmitFuture(e.Pool, func() ([]ImageResult, error) {
			handle, err := winsys.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_OPERATION, pid)
			if err != nil {
				return nil, nil
			}
			defer windows.CloseHandle(handle)
			return e.CheckProcessMemoryConsistency(pid, handle), nil
		}))
	}

	var results []ImageResult
	for _, f := range futures {
		r, _ := f.Get()
		results = append(results, r...)
	}
	return results
}
