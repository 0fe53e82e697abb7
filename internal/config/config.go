// Package config defines the scanner's tunable parameters: worker count,
// the handle-name-resolver deadline, the byte-difference threshold used by
// the image consistency checker, and output locations.
package config

import (
	"os"
	"time"

	"github.com/deepglass/deepglass/internal/encoding"
)

// Configuration holds every tunable parameter of a DEEPGLASS run. Zero values
// are not meaningful; always obtain a Configuration via Default and, if
// desired, overlay a YAML file with LoadInto.
type Configuration struct {
	// WorkerCount is the fixed size of the worker pool shared by all four
	// engines. A value of zero means "use runtime.NumCPU()".
	WorkerCount int `yaml:"workerCount"`
	// HandleNameDeadline is the hard deadline the handle-name resolver
	// enforces on each name query. Default 250ms.
	HandleNameDeadline time.Duration `yaml:"handleNameDeadline"`
	// InconsistencyThreshold is the maximum number of differing bytes a
	// mapped image's executable sections may have before it's reported
	// Inconsistent rather than Consistent. Default 0x500.
	InconsistencyThreshold int `yaml:"inconsistencyThreshold"`
	// OutputDirectory is the directory under which text reports are
	// written. Default "DEEPGLASS-Results".
	OutputDirectory string `yaml:"outputDirectory"`
	// ExtraSearchPaths supplements the fixed fallback locations scanned by
	// the filesystem sweeper's shallow sub-sweep and consulted by the path
	// resolver, in addition to %PATH%. Glob patterns are permitted and are
	// expanded with doublestar so a single entry like
	// "C:\\Program Files\\*\\bin" can cover many vendor install layouts.
	ExtraSearchPaths []string `yaml:"extraSearchPaths"`
}

// Default returns the scanner's baseline configuration.
func Default() Configuration {
	return Configuration{
		WorkerCount:            0,
		HandleNameDeadline:     250 * time.Millisecond,
		InconsistencyThreshold: 0x500,
		OutputDirectory:        "DEEPGLASS-Results",
	}
}

// LoadInto overlays a YAML configuration file's contents onto an existing
// Configuration, leaving fields absent from the file unchanged. Absence of
// the file itself is not an error; the configuration is left untouched.
func LoadInto(path string, cfg *Configuration) error {
	if err := encoding.LoadAndUnmarshalYAML(path, cfg); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
