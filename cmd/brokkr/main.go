// Command brokkr flashes Samsung Odin-protocol download-mode devices over
// USB bulk transfer or TCP. One flat flag set, no subcommand tree — mirrors
// original_source/src/app/cli.cpp's own shape.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// printPitNoFileSentinel is the NoOptDefVal pflag assigns --print-pit when it
// appears with no following value; it can never collide with a real path.
const printPitNoFileSentinel = "\x00"

func newLogger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(os.Getenv("BROKKR_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// buildRootCommand wires the flag set onto a single cobra.Command and
// returns it along with a func that reports the process exit code RunE
// settled on.
func buildRootCommand() (cmd *cobra.Command, exitCodeOf func() exitCode) {
	var o options
	var noReboot bool
	code := exitSuccess

	cmd = &cobra.Command{
		Use:           "brokkr",
		Short:         "Flash Samsung Odin-protocol download-mode devices",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("print-pit") {
				o.printPit = true
				if o.pitPrintIn == printPitNoFileSentinel {
					o.pitPrintIn = ""
				}
			}
			o.rebootAfterFlash = !noReboot

			if err := o.validate(); err != nil {
				code = exitInvalidUsage
				return err
			}

			log := newLogger()

			var err error
			if o.wireless {
				code, err = runWireless(&o, log)
			} else {
				code, err = run(&o, log)
			}
			return err
		},
	}
	cmd.Flags().SortFlags = false

	cmd.Flags().BoolVar(&o.printConnected, "print-connected", false, "list connected download-mode devices")

	cmd.Flags().StringVar(&o.pitPrintIn, "print-pit", "", "print the PIT table; downloads from the device if no file is given")
	cmd.Flags().Lookup("print-pit").NoOptDefVal = printPitNoFileSentinel

	cmd.Flags().BoolVarP(&o.wireless, "wireless", "w", false, "wireless (Galaxy Watch)")
	cmd.Flags().StringVar(&o.targetSysname, "target", "", `select a single device, "bus-device" e.g. "3-5"`)

	cmd.Flags().StringVar(&o.pitGetOut, "get-pit", "", "download PIT and save to file (single device only)")
	cmd.Flags().StringVar(&o.pitGetOut, "get", "", "alias of --get-pit")
	cmd.Flags().StringVar(&o.pitSetIn, "set-pit", "", "select/upload a PIT (multi-device)")
	cmd.Flags().StringVar(&o.pitSetIn, "set", "", "alias of --set-pit")

	cmd.Flags().BoolVar(&o.rebootOnly, "reboot", false, "reboot all selected devices without flashing; ignored if combined with other operations")
	cmd.Flags().BoolVar(&o.redownload, "redownload", false, "after operation, try to reboot back into Download Mode")
	cmd.Flags().BoolVar(&noReboot, "no-reboot", false, "do not reboot after flashing (incompatible with --redownload)")

	cmd.Flags().StringVarP(&o.fileA, "ap", "a", "", "AP file")
	cmd.Flags().StringVarP(&o.fileB, "bl", "b", "", "BL file")
	cmd.Flags().StringVarP(&o.fileC, "cp", "c", "", "CP file")
	cmd.Flags().StringVarP(&o.fileS, "csc", "s", "", "CSC file")
	cmd.Flags().StringVarP(&o.fileU, "userdata", "u", "", "USERDATA file")

	cmd.Args = cobra.NoArgs

	return cmd, func() exitCode { return code }
}

func main() {
	cmd, exitCodeOf := buildRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "brokkr:", err)
	}
	os.Exit(int(exitCodeOf()))
}
