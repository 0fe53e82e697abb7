// Command deepglass runs the four host-based forensic sweeps (registry
// reference extraction, filesystem sweeping, handle-name resolution, and
// image consistency checking) and writes their findings to a results
// directory.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/deepglass/deepglass/internal/config"
	"github.com/deepglass/deepglass/internal/logging"
)

func rootMain(command *cobra.Command, arguments []string) {
	if rootConfiguration.version {
		fmt.Println(version)
		return
	}

	if len(arguments) != 0 {
		fatal(errors.New("unexpected arguments provided"))
	}

	logging.DebugEnabled = rootConfiguration.debug

	cfg := config.Default()
	if rootConfiguration.configFile != "" {
		if err := config.LoadInto(rootConfiguration.configFile, &cfg); err != nil {
			fatal(errors.Wrap(err, "unable to load configuration"))
		}
	}
	if rootConfiguration.outputDirectory != "" {
		cfg.OutputDirectory = rootConfiguration.outputDirectory
	}

	// Every run gets its own identifier purely for log correlation; it has
	// no bearing on the contents or naming of the output reports.
	runID := uuid.New().String()
	logging.RootLogger.Printf("Starting run %s", runID)

	if err := Run(cfg, logging.RootLogger); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	logging.RootLogger.Error(err)
	os.Exit(1)
}

var rootCommand = &cobra.Command{
	Use:   "deepglass",
	Short: "DEEPGLASS scans a Windows host for signs of PE masquerading and in-memory patching",
	Run:   rootMain,
}

var rootConfiguration struct {
	help            bool
	version         bool
	debug           bool
	configFile      string
	outputDirectory string
}

func init() {
	flags := rootCommand.Flags()
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.BoolVarP(&rootConfiguration.version, "version", "V", false, "Show version information")
	flags.BoolVar(&rootConfiguration.debug, "debug", false, "Enable debug logging")
	flags.StringVarP(&rootConfiguration.configFile, "config", "c", "", "Path to a YAML configuration file")
	flags.StringVarP(&rootConfiguration.outputDirectory, "output", "o", "", "Override the configured output directory")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
}

const version = "0.1.0"

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
