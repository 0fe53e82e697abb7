package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/deepglass/deepglass/internal/config"
	"github.com/deepglass/deepglass/internal/fsscan"
	"github.com/deepglass/deepglass/internal/handlescan"
	"github.com/deepglass/deepglass/internal/imagecheck"
	"github.com/deepglass/deepglass/internal/logging"
	"github.com/deepglass/deepglass/internal/pathresolve"
	"github.com/deepglass/deepglass/internal/peimage"
	"github.com/deepglass/deepglass/internal/registryscan"
	"github.com/deepglass/deepglass/internal/report"
	"github.com/deepglass/deepglass/internal/signing"
	"github.com/deepglass/deepglass/internal/suspects"
	"github.com/deepglass/deepglass/internal/workerpool"
)

// Run sequences the four engines against a single shared worker pool and
// suspect set, writes every finding to its report, and copies each
// identified file into the results directory for later triage.
func Run(cfg config.Configuration, logger *logging.Logger) error {
	if err := resetOutputDirectory(cfg.OutputDirectory); err != nil {
		return fmt.Errorf("unable to prepare output directory: %w", err)
	}

	writer, err := report.Open(cfg.OutputDirectory)
	if err != nil {
		return fmt.Errorf("unable to open report streams: %w", err)
	}
	defer writer.Close()

	pool := workerpool.New(cfg.WorkerCount)
	defer pool.Close()

	lookup := pathresolve.OSLookup{ExtraDirs: pathresolve.ExpandSearchPatterns(cfg.ExtraSearchPaths)}
	signer := signing.OSChecker{}
	suspectSet := suspects.NewSuspectSet()

	registryLog := logger.Sublogger("registry")
	registryLog.Println("Scanning registry for file references")
	registryEngine := registryscan.NewEngine(pool, lookup, signer)
	registryFound := registryEngine.Scan()
	notSigned, notFound := registryEngine.FilterSigned(registryFound)
	for _, ref := range notFound {
		report.RegistryCitations(writer.RegistryMissing, ref, "could not be resolved", registryFound.Evidence(ref))
	}
	for _, ref := range notSigned {
		suspectSet.Insert(ref.String())
		report.RegistryCitations(writer.RegistryUnsigned, ref, "is unsigned", registryFound.Evidence(ref))
	}
	registryLog.Printf("Found %d unresolvable and %d unsigned registry references", len(notFound), len(notSigned))

	fsLog := logger.Sublogger("filesystem")
	fsLog.Println("Sweeping search-path directories and WinSxS")
	fsEngine := fsscan.NewEngine(pool, signer)
	fsEngine.Logger = fsLog
	pathUnsigned := fsEngine.ShallowSweep()
	for _, ref := range pathUnsigned {
		suspectSet.Insert(ref.String())
		report.UnsignedSimple(writer.PathUnsigned, ref)
	}
	winSxSUnsigned := fsEngine.DeepSweepWinSxS()
	for _, ref := range winSxSUnsigned {
		suspectSet.Insert(ref.String())
		report.UnsignedSimple(writer.WinSxSUnsigned, ref)
	}
	fsLog.Printf("Found %d unsigned path files and %d unsigned WinSxS files", len(pathUnsigned), len(winSxSUnsigned))

	handleLog := logger.Sublogger("handles")
	handleLog.Println("Enumerating loaded modules and open handles")
	handleEngine := handlescan.NewEngine(pool, signer, lookup, cfg.HandleNameDeadline)
	modules := handleEngine.ScanLoadedModules()
	unsignedModules := handleEngine.FilterUnsigned(modules)
	for _, ref := range unsignedModules {
		suspectSet.Insert(ref.String())
		report.UnsignedWithProcesses(writer.UnsignedModules, ref, modules.Evidence(ref))
	}
	handles := handleEngine.ScanHandleTable()
	unsignedHandles := handleEngine.FilterUnsigned(handles)
	for _, ref := range unsignedHandles {
		suspectSet.Insert(ref.String())
		report.UnsignedWithProcesses(writer.UnsignedHandles, ref, handles.Evidence(ref))
	}
	for _, ref := range handlescan.CrossReferenceSuspects(handles, suspectSet) {
		report.IdentifiedOpenHandle(writer.IdentifiedOpenHandle, ref, handles.Evidence(ref))
	}
	handleLog.Printf("Found %d unsigned modules and %d unsigned open handles", len(unsignedModules), len(unsignedHandles))

	imageLog := logger.Sublogger("imagecheck")
	imageLog.Println("Checking mapped image consistency")
	imageEngine, err := imagecheck.NewEngine(pool, cfg.InconsistencyThreshold)
	if err != nil {
		imageLog.Warn(fmt.Errorf("unable to build device map: %w", err))
	} else {
		imageEngine.Logger = imageLog
		results := imageEngine.RunConsistencyChecks()
		writer.WriteInconsistentImages(groupImageResults(results))
		imageLog.Printf("Checked %d mapped image regions", len(results))
	}

	logger.Printf("Identified %s suspect files total", humanize.Comma(int64(suspectSet.Len())))

	return copySuspectsIntoResults(suspectSet, cfg.OutputDirectory, logger)
}

// groupImageResults buckets per-region inconsistency findings by their
// (image, verdict, reason) tuple, the form Inconsistent-Images.txt reports
// them in: one entry per distinct finding, followed by every process and
// address range that produced it.
func groupImageResults(results []imagecheck.ImageResult) []report.InconsistentImageGroup {
	type key struct {
		image   string
		verdict peimage.Verdict
		reason  string
	}
	order := make([]key, 0)
	groups := make(map[key]*report.InconsistentImageGroup)

	for _, r := range results {
		if r.Result.Verdict == peimage.Consistent {
			continue
		}
		k := key{image: r.MappedImage, verdict: r.Result.Verdict, reason: r.Result.Reason}
		g, ok := groups[k]
		if !ok {
			g = &report.InconsistentImageGroup{Image: r.MappedImage, Verdict: r.Result.Verdict, Reason: r.Result.Reason}
			groups[k] = g
			order = append(order, k)
		}
		g.Occurrences = append(g.Occurrences, fmt.Sprintf(
			"PID %d (%s): 0x%x-0x%x", r.PID, r.ProcessImage, r.BaseAddress, r.BaseAddress+r.Size,
		))
	}

	out := make([]report.InconsistentImageGroup, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out
}

// resetOutputDirectory removes any prior run's results directory and
// recreates it empty, mirroring the original scanner's directory lifecycle
// of deleting a stale results folder before starting a fresh run.
func resetOutputDirectory(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// copySuspectsIntoResults copies every identified suspect file into a
// "Files" subdirectory of the results folder for offline triage, preserving
// each file's base name. Collisions between files of the same base name
// from different directories are disambiguated with a numeric suffix.
func copySuspectsIntoResults(suspectSet *suspects.SuspectSet, outputDirectory string, logger *logging.Logger) error {
	filesDir := filepath.Join(outputDirectory, "Files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return fmt.Errorf("unable to create suspect file directory: %w", err)
	}

	seenNames := make(map[string]int)
	for _, ref := range suspectSet.Snapshot() {
		src := ref.String()
		base := filepath.Base(src)
		n := seenNames[base]
		seenNames[base] = n + 1
		dstName := base
		if n > 0 {
			dstName = fmt.Sprintf("%s.%d", base, n)
		}

		if err := copyFile(src, filepath.Join(filesDir, dstName)); err != nil {
			logger.Warn(fmt.Errorf("unable to copy suspect file %s: %w", src, err))
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
