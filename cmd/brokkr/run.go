package main

import (
	"fmt"

	"github.com/gabriel2392/brokkr/coordinator"
	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/singleinstance"
	"github.com/gabriel2392/brokkr/signalshield"
	"github.com/gabriel2392/brokkr/transport"
	"github.com/sirupsen/logrus"
)

// wirelessPort is the fixed TCP port Odin's wireless variant dials back to.
const wirelessPort = 13579

func wirelessListen() (*transport.TcpListener, error) {
	return transport.BindAndListen("0.0.0.0", wirelessPort, 1)
}

// run is the USB entry point, grounded on original_source/src/app/run.cpp's
// run(). It acquires the single-instance lock, enumerates matching devices,
// opens a session on each, and hands off to runFlow.
func run(o *options, log *logrus.Logger) (exitCode, error) {
	if o.printConnected {
		return printConnected(log)
	}

	if o.printPit && o.pitPrintIn != "" {
		return printPitFromFile(log, o.pitPrintIn)
	}

	lock, err := singleinstance.TryAcquire()
	if err != nil {
		return exitOtherInstanceRunning, err
	}
	defer lock.Release()

	devs, err := enumerateTargets(o)
	if err != nil {
		return exitIOFail, err
	}
	if len(devs) == 0 {
		return exitNoDevices, fmt.Errorf("no supported devices found")
	}

	targets := make([]*coordinator.Target, 0, len(devs))
	defer func() {
		for _, t := range targets {
			t.Cmds.T.Close()
		}
	}()

	for _, d := range devs {
		cmds, err := openUsbTarget(d, preflashRetries)
		if err != nil {
			return exitIOFail, fmt.Errorf("%s: %w", deviceLabel(d), err)
		}
		targets = append(targets, &coordinator.Target{Label: deviceLabel(d), Cmds: cmds})
	}

	if o.printPit && (len(targets) != 1) {
		return exitInvalidUsage, fmt.Errorf("--print-pit without a file requires exactly one connected device (use --target to select one)")
	}
	if o.pitGetOut != "" && len(targets) != 1 {
		return exitInvalidUsage, fmt.Errorf("--get-pit requires exactly one connected device (use --target to select one)")
	}

	shield := signalshield.Enable(log)
	defer shield.Stop()

	return runFlow(targets, o, log)
}

// runWireless is the TCP entry point, grounded on run.cpp's run_wireless().
// It listens for a single inbound connection (the phone dials out in
// download mode's wireless variant) and drives the same flow as USB, minus
// multi-device fan-out: wireless sessions are always exactly one device.
func runWireless(o *options, log *logrus.Logger) (exitCode, error) {
	lock, err := singleinstance.TryAcquire()
	if err != nil {
		return exitOtherInstanceRunning, err
	}
	defer lock.Release()

	ln, err := wirelessListen()
	if err != nil {
		return exitIOFail, err
	}
	defer ln.Close()

	log.Info("waiting for wireless connection")
	t, err := ln.AcceptOne()
	if err != nil {
		return exitIOFail, err
	}
	defer t.Close()

	cmds := &odin.Commands{T: t, Retries: preflashRetries}
	target := &coordinator.Target{Label: "wireless", Cmds: cmds}

	shield := signalshield.Enable(log)
	defer shield.Stop()

	return runFlow([]*coordinator.Target{target}, o, log)
}
