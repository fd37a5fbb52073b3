// Package main implements vdevtool, a read-only inspector for the on-disk
// label and uberblock layout pkg/vlabel maintains. It never writes to the
// file it opens: it is the decompiler side of the subsystem, not the pool
// driver.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pooldev/vdevlabel/pkg/elog"
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "vdevtool",
	Short: "Inspect vdev labels and uberblocks on a device file",
}

// Each command executed may set an error message and status code, mirroring
// the teacher's pkg/cli.SetError convention: cobra's Run callbacks have no
// error return, so commands report failure out-of-band.
var errorStatusCode int
var errorStatusMessage error

// SetError records the failure a command hit, for main to report after
// rootCmd.Execute returns.
func SetError(err error, code int) {
	errorStatusCode = code
	errorStatusMessage = err
}

func commandInit() {
	rootCmd.AddCommand(dumpLabelsCmd, dumpUberblocksCmd)

	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger
		return nil
	}
}

func main() {
	commandInit()

	err := rootCmd.Execute()

	if errorStatusMessage != nil {
		log.Errorf("%v", errorStatusMessage)
		os.Exit(errorStatusCode)
	}
	if err != nil {
		os.Exit(1)
	}
}
