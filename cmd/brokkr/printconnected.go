package main

import (
	"fmt"
	"os"

	"github.com/gabriel2392/brokkr/pit"
	"github.com/gabriel2392/brokkr/usbdev"
	"github.com/sirupsen/logrus"
)

func printConnected(log *logrus.Logger) (exitCode, error) {
	devs, err := usbdev.FindDownloadModeDevices()
	if err != nil {
		return exitIOFail, err
	}
	for _, d := range devs {
		log.WithField("device", deviceLabel(d)).Info("found device")
	}
	return exitSuccess, nil
}

// printPitFromFile implements --print-pit <file>: no device or lock
// involved, a pure local parse-and-print.
func printPitFromFile(log *logrus.Logger, path string) (exitCode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return exitIOFail, fmt.Errorf("reading %s: %w", path, err)
	}
	t, err := pit.Parse(data)
	if err != nil {
		return exitIOFail, err
	}
	printPitTable(log, t)
	return exitSuccess, nil
}
