package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "seismicd",
	Short: "Seismic waveform chunk collection daemon",
	Long: `seismicd collects continuous seismic waveform data from the IRIS FDSN
timeseries service, slices it into aligned 10-minute, 1-hour, and 6-hour
chunks, and stores the compressed chunks plus JSON index metadata in object
storage. It backfills historical windows, audits and repairs drift between
the index and stored objects, and exposes a status API.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
