package main

import "fmt"

// options mirrors original_source/src/app/cli.hpp's Options: one flat flag
// set, no subcommand tree, matching the original's own shape.
type options struct {
	help           bool
	version        bool
	printConnected bool

	printPit    bool
	pitPrintIn  string // empty means "download from device"

	wireless bool

	rebootOnly bool
	redownload bool

	targetSysname string // "bus-device", e.g. "3-5"

	pitGetOut string
	pitSetIn  string

	rebootAfterFlash bool

	fileA, fileB, fileC, fileS, fileU string
}

func (o *options) anyFlashFile() bool {
	return o.fileA != "" || o.fileB != "" || o.fileC != "" || o.fileS != "" || o.fileU != ""
}

// flashInputs returns the flash files in the original's b,a,c,s,u order
// (bootloader first, matching build_flash_inputs in run.cpp).
func (o *options) flashInputs() []string {
	var v []string
	for _, f := range []string{o.fileB, o.fileA, o.fileC, o.fileS, o.fileU} {
		if f != "" {
			v = append(v, f)
		}
	}
	return v
}

// validate ports parse_cli's post-parse checks verbatim: mutual exclusions,
// the "print-pit/get-pit must stand alone" rules, and the retained quirk
// that --reboot is silently cleared rather than rejected when combined with
// other operations.
func (o *options) validate() error {
	if o.wireless {
		if o.targetSysname != "" {
			return fmt.Errorf("--wireless cannot be used with --target")
		}
		if o.printConnected {
			return fmt.Errorf("--wireless cannot be used with --print-connected")
		}
		hasWirelessOp := o.rebootOnly || o.pitGetOut != "" || o.pitSetIn != "" || o.anyFlashFile()
		if !hasWirelessOp {
			return fmt.Errorf("--wireless requires either --reboot, --get/--get-pit, --set/--set-pit, or flash inputs (-a/-b/-c/-s/-u)")
		}
	}

	if o.printPit {
		hasOtherOps := o.pitGetOut != "" || o.pitSetIn != "" || o.anyFlashFile() || o.rebootOnly
		if hasOtherOps {
			return fmt.Errorf("--print-pit must be used alone (it cannot be combined with flashing, --get/--set, or --reboot)")
		}
	}

	if o.pitGetOut != "" && o.pitSetIn != "" {
		return fmt.Errorf("cannot use --get-pit and --set-pit together")
	}
	if o.pitGetOut != "" && o.anyFlashFile() {
		return fmt.Errorf("--get-pit does not accept flash inputs")
	}

	if o.rebootOnly && !o.rebootAfterFlash {
		return fmt.Errorf("--reboot cannot be used with --no-reboot")
	}

	hasOtherOps := o.pitGetOut != "" || o.pitSetIn != "" || o.anyFlashFile()
	if o.rebootOnly && hasOtherOps {
		o.rebootOnly = false
	}

	if o.redownload && !o.rebootAfterFlash {
		return fmt.Errorf("--redownload cannot be used with --no-reboot")
	}
	if o.redownload && o.rebootOnly {
		return fmt.Errorf("--redownload cannot be used with --reboot")
	}
	if o.redownload {
		allowedContext := o.pitGetOut != "" || o.pitSetIn != "" || o.anyFlashFile() || o.printPit
		if !allowedContext {
			return fmt.Errorf("--redownload cannot be used alone")
		}
	}

	return nil
}
